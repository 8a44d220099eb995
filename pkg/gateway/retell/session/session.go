// Package session runs one call's custom LLM websocket: it announces the
// session, speaks the greeting and answers each response trigger with
// streamed fragments, always letting the most recent trigger win.
package session

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"log/slog"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/gorilla/websocket"

	"github.com/vango-go/vai-retell/pkg/core/generation"
	"github.com/vango-go/vai-retell/pkg/core/prompt"
	"github.com/vango-go/vai-retell/pkg/core/types"
	"github.com/vango-go/vai-retell/pkg/gateway/retell/protocol"
)

var errSessionClosed = errors.New("session closed")

const outboundPriorityQueueSize = 8

// FieldsSource selects where a call's fields come from.
type FieldsSource string

const (
	// FieldsFromStore reads fields from the metadata store by phone number.
	FieldsFromStore FieldsSource = "store"
	// FieldsFromEvent reads the platform's dynamic variables.
	FieldsFromEvent FieldsSource = "event"
	// FieldsFromStoreThenEvent tries the store first.
	FieldsFromStoreThenEvent FieldsSource = "store_then_event"
)

// Valid reports whether s names a known strategy.
func (s FieldsSource) Valid() bool {
	switch s {
	case FieldsFromStore, FieldsFromEvent, FieldsFromStoreThenEvent:
		return true
	default:
		return false
	}
}

func (s FieldsSource) useStore() bool { return s == FieldsFromStore || s == FieldsFromStoreThenEvent }
func (s FieldsSource) useEvent() bool { return s == FieldsFromEvent || s == FieldsFromStoreThenEvent }

// State is the lifecycle stage of a session.
type State int32

const (
	StateOpened State = iota
	StateActive
	StateClosed
)

func (s State) String() string {
	switch s {
	case StateOpened:
		return "opened"
	case StateActive:
		return "active"
	case StateClosed:
		return "closed"
	default:
		return fmt.Sprintf("state(%d)", int32(s))
	}
}

// Config tunes a call session's transport and trigger handling.
type Config struct {
	MaxMessageBytes   int64
	PingInterval      time.Duration
	WriteTimeout      time.Duration
	ReadTimeout       time.Duration
	OutboundQueueSize int
	FieldsSource      FieldsSource

	// CancelSuperseded stops upstream generation for triggers that are no
	// longer the latest. Fragments of superseded triggers are never sent
	// either way.
	CancelSuperseded bool
}

// Conn is the subset of *websocket.Conn a session uses.
type Conn interface {
	wsWriter
	ReadMessage() (messageType int, p []byte, err error)
	SetReadLimit(limit int64)
	SetReadDeadline(t time.Time) error
	SetPongHandler(h func(appData string) error)
}

// Generator produces fragments for one trigger.
type Generator interface {
	Generate(ctx context.Context, responseID int64, system string, messages []types.Message) <-chan generation.Result
}

// MetadataStore is the error-free view of the metadata cache.
type MetadataStore interface {
	Retrieve(ctx context.Context, phone string) (types.CallFields, bool)
	Delete(ctx context.Context, phone string) bool
}

// Dependencies are the collaborators New wires into a Session.
type Dependencies struct {
	Conn      Conn
	Logger    *slog.Logger
	Generator Generator
	Prompt    *prompt.Template
	Metadata  MetadataStore
	CallID    string
	RequestID string
	Config    Config
}

// Session coordinates one call's websocket: greeting, event dispatch and
// most-recent-wins streaming of generated replies.
type Session struct {
	conn      Conn
	logger    *slog.Logger
	generator Generator
	prompt    *prompt.Template
	metadata  MetadataStore
	callID    string
	cfg       Config

	ctx    context.Context
	cancel context.CancelFunc

	outboundPriority chan outboundFrame
	outboundNormal   chan outboundFrame

	state  atomic.Int32
	latest atomic.Int64

	fields   atomic.Pointer[types.CallFields]
	phoneKey atomic.Value // string

	// triggers holds the cancel func of each running generation. Accepted
	// ids are strictly increasing, so an id has at most one.
	triggersMu sync.Mutex
	triggers   map[int64]context.CancelFunc

	tasks sync.WaitGroup
}

type inboundFrame struct {
	messageType int
	data        []byte
	err         error
}

// New validates deps and builds a session. Call Run to serve it.
func New(deps Dependencies) (*Session, error) {
	if deps.Conn == nil {
		return nil, fmt.Errorf("connection is required")
	}
	if deps.Generator == nil {
		return nil, fmt.Errorf("generator is required")
	}
	if deps.Prompt == nil {
		return nil, fmt.Errorf("prompt template is required")
	}
	if strings.TrimSpace(deps.CallID) == "" {
		return nil, fmt.Errorf("call id is required")
	}
	if deps.Logger == nil {
		deps.Logger = slog.Default()
	}
	if deps.Config.OutboundQueueSize <= 0 {
		deps.Config.OutboundQueueSize = 128
	}
	if deps.Config.FieldsSource == "" {
		deps.Config.FieldsSource = FieldsFromStoreThenEvent
	}

	logger := deps.Logger.With("call_id", deps.CallID)
	if deps.RequestID != "" {
		logger = logger.With("request_id", deps.RequestID)
	}

	ctx, cancel := context.WithCancel(context.Background())
	s := &Session{
		conn:             deps.Conn,
		logger:           logger,
		generator:        deps.Generator,
		prompt:           deps.Prompt,
		metadata:         deps.Metadata,
		callID:           deps.CallID,
		cfg:              deps.Config,
		ctx:              ctx,
		cancel:           cancel,
		outboundPriority: make(chan outboundFrame, outboundPriorityQueueSize),
		outboundNormal:   make(chan outboundFrame, deps.Config.OutboundQueueSize),
		triggers:         make(map[int64]context.CancelFunc),
	}
	s.latest.Store(-1)
	s.phoneKey.Store("")
	return s, nil
}

// Run serves the session until the connection closes or Cancel is called.
func (s *Session) Run() error {
	defer s.cancel()

	if s.cfg.MaxMessageBytes > 0 {
		s.conn.SetReadLimit(s.cfg.MaxMessageBytes)
	}
	if s.cfg.ReadTimeout > 0 {
		_ = s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		s.conn.SetPongHandler(func(string) error {
			return s.conn.SetReadDeadline(time.Now().Add(s.cfg.ReadTimeout))
		})
	}

	readCh := make(chan inboundFrame, 64)
	go s.readLoop(readCh)

	s.logger.Info("call session opened")
	if err := s.open(); err != nil {
		s.close(nil)
		return err
	}

	writerErrCh := make(chan error, 1)
	go func() {
		w := outboundWriter{
			ws:        s.conn,
			ctx:       s.ctx,
			cfg:       s.cfg,
			priority:  s.outboundPriority,
			normal:    s.outboundNormal,
			isCurrent: s.stillCurrent,
		}
		writerErrCh <- w.Run()
		close(writerErrCh)
	}()

	var runErr error
loop:
	for {
		select {
		case <-s.ctx.Done():
			break loop
		case err, ok := <-writerErrCh:
			if ok && err != nil {
				runErr = fmt.Errorf("write: %w", err)
			}
			writerErrCh = nil
			break loop
		case frame, ok := <-readCh:
			if !ok {
				break loop
			}
			if frame.err != nil {
				if !isNormalClose(frame.err) {
					runErr = frame.err
				}
				break loop
			}
			if frame.messageType != websocket.TextMessage {
				s.logger.Debug("dropping non-text frame", "message_type", frame.messageType)
				continue
			}
			s.tasks.Add(1)
			go func(data []byte) {
				defer s.tasks.Done()
				s.handleFrame(data)
			}(frame.data)
		}
	}

	s.close(writerErrCh)
	return runErr
}

// open writes the config frame and the greeting straight to the connection.
// The outbound writer is not running yet, so no queued frame can precede them.
func (s *Session) open() error {
	if err := s.writeDirect(protocol.NewConfigResponse()); err != nil {
		return fmt.Errorf("send config: %w", err)
	}
	greeting := types.Fragment{ResponseID: 0, Content: s.prompt.Greeting(), ContentComplete: true}
	if err := s.writeDirect(protocol.NewResponse(greeting)); err != nil {
		return fmt.Errorf("send greeting: %w", err)
	}
	s.state.Store(int32(StateActive))
	return nil
}

func (s *Session) writeDirect(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return writeText(s.conn, payload, s.cfg.WriteTimeout)
}

func (s *Session) close(writerErrCh <-chan error) {
	s.state.Store(int32(StateClosed))
	s.cancel()
	s.tasks.Wait()

	if writerErrCh != nil {
		wait := 100 * time.Millisecond
		if s.cfg.WriteTimeout > 0 && s.cfg.WriteTimeout < wait {
			wait = s.cfg.WriteTimeout
		}
		timer := time.NewTimer(wait)
		select {
		case <-writerErrCh:
		case <-timer.C:
		}
		timer.Stop()
	}

	if phone, _ := s.phoneKey.Load().(string); phone != "" && s.metadata != nil {
		ctx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		deleted := s.metadata.Delete(ctx, phone)
		cancel()
		s.logger.Info("call session closed", "latest_response_id", s.latest.Load(), "metadata_deleted", deleted)
		return
	}
	s.logger.Info("call session closed", "latest_response_id", s.latest.Load())
}

func (s *Session) handleFrame(data []byte) {
	msg, err := protocol.DecodeInbound(data)
	if err != nil {
		s.logger.Warn("dropping invalid frame", "error", err)
		return
	}

	switch m := msg.(type) {
	case protocol.CallDetails:
		s.handleCallDetails(m.Call)
	case protocol.PingPong:
		if err := s.sendJSONPriority(protocol.NewPingPongResponse(m.Timestamp)); err != nil {
			s.logger.Debug("pong not sent", "error", err)
		}
	case protocol.UpdateOnly:
		s.logger.Debug("transcript update", "turns", len(m.Transcript))
	case protocol.ResponseRequest:
		s.respond(m)
	}
}

func (s *Session) handleCallDetails(call protocol.Call) {
	if call.CallID != "" && call.CallID != s.callID {
		s.logger.Warn("call_details for a different call", "details_call_id", call.CallID)
	}
	phone := call.PhoneKey()
	if phone != "" {
		s.phoneKey.Store(phone)
	}

	if s.cfg.FieldsSource.useStore() && phone != "" && s.metadata != nil {
		if fields, ok := s.metadata.Retrieve(s.ctx, phone); ok && s.setFields(fields, "store") {
			return
		}
	}
	if s.cfg.FieldsSource.useEvent() {
		s.setFields(call.DynamicFields(), "event")
	}
}

// setFields records the call's fields the first time a non-empty set is
// offered. Later offers are ignored.
func (s *Session) setFields(fields types.CallFields, source string) bool {
	if fields.IsEmpty() {
		return false
	}
	f := fields
	if !s.fields.CompareAndSwap(nil, &f) {
		return false
	}
	s.logger.Info("call fields populated", "source", source, "fields", fields.Count(), "scenario", fields.ScenarioType)
	return true
}

// Fields returns the call's fields, or nil if none have been populated.
func (s *Session) Fields() *types.CallFields {
	return s.fields.Load()
}

func (s *Session) respond(req protocol.ResponseRequest) {
	id := req.ResponseID
	if !s.advanceTrigger(id) {
		s.logger.Debug("ignoring stale or repeated trigger", "response_id", id, "latest_response_id", s.latest.Load())
		return
	}

	if s.fields.Load() == nil && s.cfg.FieldsSource.useEvent() && len(req.RetellLLMDynamicVariables) > 0 {
		s.setFields(protocol.Call{RetellLLMDynamicVariables: req.RetellLLMDynamicVariables}.DynamicFields(), "event")
	}

	ctx, release := s.triggerContext(id)
	defer release()

	system, messages := s.prompt.Translate(req.Transcript, req.Kind(), s.fields.Load())
	logger := s.logger.With("response_id", id)
	logger.Debug("trigger accepted", "kind", req.InteractionType, "turns", len(req.Transcript))

	sent := 0
	for res := range s.generator.Generate(ctx, id, system, messages) {
		switch {
		case res.Err != nil:
			if res.Err.Kind == generation.FailureCanceled {
				continue
			}
			text := s.prompt.Apology()
			if res.Err.Retryable() {
				text = s.prompt.BusyApology()
			}
			logger.Warn("generation failed, sending apology", "kind", res.Err.Kind, "retryable", res.Err.Retryable(), "error", res.Err.Cause)
			apology := types.Fragment{ResponseID: id, Content: text, ContentComplete: true}
			if s.sendFragment(apology) {
				sent++
			}
		case res.Fragment != nil:
			if s.sendFragment(*res.Fragment) {
				sent++
			}
		}
	}
	if !s.stillCurrent(id) {
		logger.Debug("trigger superseded", "latest_response_id", s.latest.Load(), "fragments_sent", sent)
	}
}

// advanceTrigger raises latest to id. It reports false for an id at or
// below the current one: older triggers are stale and a repeated id already
// has its generation.
func (s *Session) advanceTrigger(id int64) bool {
	for {
		cur := s.latest.Load()
		if id <= cur {
			return false
		}
		if s.latest.CompareAndSwap(cur, id) {
			break
		}
	}
	if s.cfg.CancelSuperseded {
		s.cancelBefore(id)
	}
	return true
}

func (s *Session) stillCurrent(id int64) bool {
	return s.latest.Load() == id
}

// LatestTriggerID returns the most recent response_id seen, or -1.
func (s *Session) LatestTriggerID() int64 {
	return s.latest.Load()
}

// State returns the current lifecycle state.
func (s *Session) State() State {
	return State(s.state.Load())
}

func (s *Session) triggerContext(id int64) (context.Context, func()) {
	ctx, cancel := context.WithCancel(s.ctx)
	s.triggersMu.Lock()
	s.triggers[id] = cancel
	s.triggersMu.Unlock()
	return ctx, func() {
		cancel()
		s.triggersMu.Lock()
		delete(s.triggers, id)
		s.triggersMu.Unlock()
	}
}

func (s *Session) cancelBefore(id int64) {
	var cancels []context.CancelFunc
	s.triggersMu.Lock()
	for tid, cancel := range s.triggers {
		if tid < id {
			cancels = append(cancels, cancel)
			delete(s.triggers, tid)
		}
	}
	s.triggersMu.Unlock()
	for _, cancel := range cancels {
		cancel()
	}
}

func (s *Session) sendFragment(f types.Fragment) bool {
	if !s.stillCurrent(f.ResponseID) {
		return false
	}
	payload, err := json.Marshal(protocol.NewResponse(f))
	if err != nil {
		return false
	}
	return s.enqueueNormal(outboundFrame{guarded: true, responseID: f.ResponseID, payload: payload}) == nil
}

func (s *Session) sendJSON(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueueNormal(outboundFrame{payload: payload})
}

func (s *Session) sendJSONPriority(v any) error {
	payload, err := json.Marshal(v)
	if err != nil {
		return err
	}
	return s.enqueuePriority(outboundFrame{payload: payload})
}

// enqueueNormal blocks until the writer has room; response text is never
// dropped for backpressure.
func (s *Session) enqueueNormal(frame outboundFrame) error {
	select {
	case s.outboundNormal <- frame:
		return nil
	case <-s.ctx.Done():
		return errSessionClosed
	}
}

// enqueuePriority drops the oldest queued priority frame when full.
func (s *Session) enqueuePriority(frame outboundFrame) error {
	for i := 0; i < 4; i++ {
		select {
		case s.outboundPriority <- frame:
			return nil
		default:
		}
		select {
		case <-s.outboundPriority:
		default:
		}
	}
	select {
	case s.outboundPriority <- frame:
		return nil
	default:
		return errSessionClosed
	}
}

func (s *Session) readLoop(out chan<- inboundFrame) {
	defer close(out)
	for {
		messageType, data, err := s.conn.ReadMessage()
		if err != nil {
			select {
			case out <- inboundFrame{err: err}:
			case <-s.ctx.Done():
			}
			return
		}
		select {
		case out <- inboundFrame{messageType: messageType, data: data}:
		case <-s.ctx.Done():
			return
		}
	}
}

// Cancel ends the session; Run returns once cleanup is done.
func (s *Session) Cancel() {
	if s == nil || s.cancel == nil {
		return
	}
	s.cancel()
}

func isNormalClose(err error) bool {
	return websocket.IsCloseError(err, websocket.CloseNormalClosure, websocket.CloseGoingAway, websocket.CloseNoStatusReceived)
}
