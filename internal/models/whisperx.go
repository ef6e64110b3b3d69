package models

import (
	"bufio"
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"os"
	"os/exec"
	"strings"
	"sync"
	"time"

	"github.com/rs/zerolog/log"

	"github.com/codebuildervaibhav/diarized-transcription/internal/types"
)

const (
	// waitDelay bounds how long a killed helper's children may hold its pipes open
	waitDelay = 2 * time.Second
	// stopGrace is how long the helper gets to exit after its stdin closes
	stopGrace = 3 * time.Second

	maxResponseSize = 64 << 20
	stderrTail      = 4 << 10
)

var errHelperClosed = errors.New("helper is shut down")

// helper supervises the long-lived whisperx helper process. The process loads
// its models once, prints {"ready":true} and then answers one JSON request per
// stdin line with one JSON response per stdout line. Lines on stdout that are
// not JSON are treated as log output.
type helper struct {
	argv []string
	env  []string

	mu     sync.Mutex
	proc   *helperProc
	closed bool
}

type helperRequest struct {
	ID      uint64 `json:"id"`
	Command string `json:"command"`
	Args    any    `json:"args"`
}

type helperResponse struct {
	ID     uint64          `json:"id"`
	Ready  bool            `json:"ready"`
	Result json.RawMessage `json:"result"`
	Error  string          `json:"error"`
}

type reply struct {
	result json.RawMessage
	err    error
}

func newHelper(command string, args, env []string) (*helper, error) {
	argv := strings.Fields(command)
	if len(argv) == 0 {
		return nil, errors.New("helper command is not configured")
	}
	if _, err := exec.LookPath(argv[0]); err != nil {
		return nil, fmt.Errorf("helper %q not found: %w", argv[0], err)
	}
	return &helper{argv: append(argv, args...), env: env}, nil
}

// process returns the running helper, starting a new one when none is alive
func (h *helper) process() (*helperProc, error) {
	h.mu.Lock()
	defer h.mu.Unlock()

	if h.closed {
		return nil, errHelperClosed
	}
	if h.proc != nil && h.proc.alive() {
		return h.proc, nil
	}
	p, err := startHelper(h.argv, h.env)
	if err != nil {
		return nil, err
	}
	h.proc = p
	return p, nil
}

// wait blocks until the helper has loaded its models
func (h *helper) wait(ctx context.Context) error {
	p, err := h.process()
	if err != nil {
		return err
	}
	return p.waitReady(ctx)
}

func (h *helper) call(ctx context.Context, command string, args, out any) error {
	p, err := h.process()
	if err != nil {
		return err
	}
	if err := p.waitReady(ctx); err != nil {
		return err
	}

	result, err := p.roundTrip(ctx, command, args)
	if err != nil {
		return err
	}
	if err := json.Unmarshal(result, out); err != nil {
		return fmt.Errorf("failed to parse %s output: %w", command, err)
	}
	return nil
}

func (h *helper) close() {
	h.mu.Lock()
	p := h.proc
	h.proc = nil
	h.closed = true
	h.mu.Unlock()

	if p != nil {
		p.stop()
	}
}

type helperProc struct {
	cmd    *exec.Cmd
	stdin  io.WriteCloser
	stderr *tailBuffer

	writeMu sync.Mutex

	mu      sync.Mutex
	pending map[uint64]chan reply
	nextID  uint64
	err     error

	ready  chan struct{}
	exited chan struct{}
}

func startHelper(argv, env []string) (*helperProc, error) {
	cmd := exec.Command(argv[0], argv[1:]...)
	cmd.WaitDelay = waitDelay
	if len(env) > 0 {
		cmd.Env = append(os.Environ(), env...)
	}

	stdin, err := cmd.StdinPipe()
	if err != nil {
		return nil, err
	}
	stdout, err := cmd.StdoutPipe()
	if err != nil {
		return nil, err
	}

	p := &helperProc{
		cmd:     cmd,
		stdin:   stdin,
		stderr:  &tailBuffer{max: stderrTail},
		pending: make(map[uint64]chan reply),
		ready:   make(chan struct{}),
		exited:  make(chan struct{}),
	}
	cmd.Stderr = p.stderr

	if err := cmd.Start(); err != nil {
		return nil, fmt.Errorf("failed to start helper: %w", err)
	}
	log.Info().Int("pid", cmd.Process.Pid).Str("helper", argv[0]).Msg("whisperx helper started")

	go p.read(stdout)
	return p, nil
}

func (p *helperProc) read(stdout io.Reader) {
	var readyOnce sync.Once

	scanner := bufio.NewScanner(stdout)
	scanner.Buffer(make([]byte, 0, 64*1024), maxResponseSize)
	for scanner.Scan() {
		var res helperResponse
		if err := json.Unmarshal(scanner.Bytes(), &res); err != nil {
			log.Debug().Str("line", scanner.Text()).Msg("whisperx helper")
			continue
		}
		if res.Ready {
			readyOnce.Do(func() { close(p.ready) })
			log.Info().Int("pid", p.cmd.Process.Pid).Msg("whisperx helper ready")
			continue
		}

		p.mu.Lock()
		ch, ok := p.pending[res.ID]
		delete(p.pending, res.ID)
		p.mu.Unlock()
		if !ok {
			// the caller gave up on this one
			log.Debug().Uint64("id", res.ID).Msg("dropping late helper response")
			continue
		}

		if res.Error != "" {
			ch <- reply{err: errors.New(res.Error)}
		} else {
			ch <- reply{result: res.Result}
		}
	}

	scanErr := scanner.Err()
	if scanErr != nil {
		_ = p.cmd.Process.Kill()
	}
	waitErr := p.cmd.Wait()

	err := errors.New("helper exited")
	switch {
	case scanErr != nil:
		err = fmt.Errorf("helper output unreadable: %w", scanErr)
	case waitErr != nil:
		err = fmt.Errorf("helper exited: %w", waitErr)
	}
	if tail := p.stderr.String(); tail != "" {
		err = fmt.Errorf("%w\nOutput: %s", err, tail)
	}
	log.Warn().Err(err).Msg("whisperx helper stopped")

	p.mu.Lock()
	p.err = err
	pending := p.pending
	p.pending = nil
	p.mu.Unlock()

	// exited closes first so a caller woken below never reuses this process
	close(p.exited)
	for _, ch := range pending {
		ch <- reply{err: err}
	}
}

func (p *helperProc) alive() bool {
	select {
	case <-p.exited:
		return false
	default:
		return true
	}
}

func (p *helperProc) failure() error {
	p.mu.Lock()
	defer p.mu.Unlock()
	return p.err
}

func (p *helperProc) waitReady(ctx context.Context) error {
	select {
	case <-p.ready:
		return nil
	case <-p.exited:
		return p.failure()
	case <-ctx.Done():
		return ctx.Err()
	}
}

// roundTrip sends one request and waits for its answer. A caller whose context
// ends stops waiting; the helper's eventual answer is dropped.
func (p *helperProc) roundTrip(ctx context.Context, command string, args any) (json.RawMessage, error) {
	ch := make(chan reply, 1)

	p.mu.Lock()
	if p.pending == nil {
		err := p.err
		p.mu.Unlock()
		return nil, err
	}
	p.nextID++
	id := p.nextID
	p.pending[id] = ch
	p.mu.Unlock()

	line, err := json.Marshal(helperRequest{ID: id, Command: command, Args: args})
	if err != nil {
		p.forget(id)
		return nil, err
	}

	p.writeMu.Lock()
	_, err = p.stdin.Write(append(line, '\n'))
	p.writeMu.Unlock()
	if err != nil {
		p.forget(id)
		return nil, fmt.Errorf("failed to send %s to helper: %w", command, err)
	}
	log.Debug().Uint64("id", id).Str("command", command).Msg("whisperx helper request sent")

	select {
	case r := <-ch:
		if r.err != nil {
			return nil, fmt.Errorf("%s failed: %w", command, r.err)
		}
		return r.result, nil
	case <-ctx.Done():
		p.forget(id)
		return nil, ctx.Err()
	}
}

func (p *helperProc) forget(id uint64) {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.pending != nil {
		delete(p.pending, id)
	}
}

// stop closes stdin so the helper can exit on its own, then kills it
func (p *helperProc) stop() {
	_ = p.stdin.Close()
	select {
	case <-p.exited:
		return
	case <-time.After(stopGrace):
	}

	_ = p.cmd.Process.Kill()
	select {
	case <-p.exited:
	case <-time.After(waitDelay):
		log.Warn().Int("pid", p.cmd.Process.Pid).Msg("whisperx helper did not exit after kill")
	}
}

// tailBuffer keeps the last max bytes written to it
type tailBuffer struct {
	mu  sync.Mutex
	buf []byte
	max int
}

func (t *tailBuffer) Write(b []byte) (int, error) {
	t.mu.Lock()
	defer t.mu.Unlock()

	t.buf = append(t.buf, b...)
	if len(t.buf) > t.max {
		t.buf = t.buf[len(t.buf)-t.max:]
	}
	return len(b), nil
}

func (t *tailBuffer) String() string {
	t.mu.Lock()
	defer t.mu.Unlock()
	return strings.TrimSpace(string(t.buf))
}

type transcribeArgs struct {
	Audio    string `json:"audio"`
	Language string `json:"language,omitempty"`
}

type whisperXTranscriber struct {
	helper *helper
}

func (t *whisperXTranscriber) Transcribe(ctx context.Context, audioPath, language string) (*types.ASRResult, error) {
	args := transcribeArgs{Audio: audioPath}
	if language != types.LanguageAuto {
		args.Language = language
	}

	var res types.ASRResult
	if err := t.helper.call(ctx, "transcribe", args, &res); err != nil {
		return nil, err
	}
	log.Info().Str("language", res.Language).Int("segments", len(res.Segments)).Msg("transcription finished")
	return &res, nil
}

type alignArgs struct {
	Audio    string             `json:"audio"`
	Language string             `json:"language"`
	Segments []types.RawSegment `json:"segments"`
}

type whisperXAligner struct {
	helper *helper
}

func (a *whisperXAligner) Align(ctx context.Context, audioPath string, asr *types.ASRResult) ([]types.RawSegment, error) {
	if len(asr.Segments) == 0 {
		return nil, nil
	}
	if asr.Language == "" {
		return nil, errors.New("no language to align with: detection failed and no language hint was given")
	}

	var out struct {
		Segments []types.RawSegment `json:"segments"`
	}
	args := alignArgs{Audio: audioPath, Language: asr.Language, Segments: asr.Segments}
	if err := a.helper.call(ctx, "align", args, &out); err != nil {
		return nil, err
	}
	return out.Segments, nil
}

type diarizeArgs struct {
	Audio       string `json:"audio"`
	MinSpeakers *int   `json:"min_speakers,omitempty"`
	MaxSpeakers *int   `json:"max_speakers,omitempty"`
}

type whisperXDiarizer struct {
	helper *helper
}

func (d *whisperXDiarizer) Diarize(ctx context.Context, audioPath string, bounds types.SpeakerBounds) ([]types.RawTurn, error) {
	var out struct {
		Turns []types.RawTurn `json:"turns"`
	}
	args := diarizeArgs{Audio: audioPath, MinSpeakers: bounds.Min, MaxSpeakers: bounds.Max}
	if err := d.helper.call(ctx, "diarize", args, &out); err != nil {
		return nil, err
	}
	log.Info().Int("turns", len(out.Turns)).Msg("diarization finished")
	return out.Turns, nil
}
