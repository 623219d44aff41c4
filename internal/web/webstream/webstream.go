package webstream

import (
	"context"
	"errors"
	"net/http"
	"strings"
	"sync"
	"sync/atomic"
	"time"

	"github.com/rs/zerolog"
	"github.com/rs/zerolog/log"
	"nhooyr.io/websocket"
	"nhooyr.io/websocket/wsjson"
	"nuha.dev/udpgps/internal/feed"
	"nuha.dev/udpgps/internal/sublist"
)

const (
	CAddSub = "ADDSUB"
	CDelSub = "DELSUB"
)

type WebstreamServer struct {
	server *http.Server
	logger zerolog.Logger
	config WebStreamConfig
	subs   *sublist.SublistMap
}

type WebStreamConfig struct {
	ListenAddr string
	// Buffer is the number of frames queued per viewer before new frames
	// are skipped.
	Buffer int
}

// ack is written back after every subscription change.
type ack struct {
	Command string   `json:"command"`
	Senders []string `json:"senders"`
}

func NewWebstream(subs *sublist.SublistMap, config WebStreamConfig) *WebstreamServer {
	if config.Buffer <= 0 {
		config.Buffer = 64
	}
	o := &WebstreamServer{config: config, subs: subs}
	o.server = &http.Server{
		Addr:           config.ListenAddr,
		Handler:        http.HandlerFunc(o.serve_http),
		ReadTimeout:    10 * time.Second,
		MaxHeaderBytes: 1 << 20,
	}
	o.logger = log.With().Str("module", "websocket").Logger()
	return o
}

func (ws *WebstreamServer) Handler() http.Handler {
	return ws.server.Handler
}

// Handle fans a feed event out to viewers.
func (ws *WebstreamServer) Handle(ev feed.Event) {
	if ev.Kind == feed.KindError {
		if err := ws.subs.SendEvent("error", ev.Message(), ev.Time); err != nil {
			ws.logger.Error().Err(err).Msg("encode event")
		}
		return
	}
	if err := ws.subs.SendLocation(ev.Reading, ev.Time); err != nil {
		ws.logger.Error().Err(err).Str("sender", ev.Reading.Label).Msg("encode location")
	}
}

// Run serves until ctx is cancelled.
func (ws *WebstreamServer) Run(ctx context.Context) error {
	stop := context.AfterFunc(ctx, func() {
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		ws.server.Shutdown(shutdownCtx)
	})
	defer stop()
	ws.logger.Info().Str("addr", ws.config.ListenAddr).Msg("websocket stream listening")
	err := ws.server.ListenAndServe()
	if errors.Is(err, http.ErrServerClosed) {
		return nil
	}
	return err
}

func (ws *WebstreamServer) serve_http(w http.ResponseWriter, r *http.Request) {
	c, err := websocket.Accept(w, r, &websocket.AcceptOptions{
		InsecureSkipVerify: true, CompressionMode: websocket.CompressionDisabled,
	})
	if err != nil {
		ws.logger.Err(err).Msg("Error while upgrading websocket")
		return
	}
	defer c.Close(websocket.StatusInternalError, "unhandled error")

	ctx, cancel := context.WithCancel(r.Context())
	defer cancel()
	wc := &WebstreamClient{
		srv:     ws,
		c:       c,
		logger:  ws.logger.With().Str("remote", r.RemoteAddr).Logger(),
		out:     make(chan []byte, ws.config.Buffer),
		sublist: make(map[string]*sublist.Sublist),
	}
	wc.logger.Info().Msg("viewer connected")
	wc.wg.Add(2)
	go wc.writeLoop(ctx)
	go func() {
		wc.readloop(ctx)
		cancel()
	}()
	wc.wg.Wait()
	wc.unsubscribeAll()
	wc.logger.Info().Uint64("pushed", wc.Pushed()).Uint64("skipped", wc.Skipped()).Msg("viewer disconnected")
	c.Close(websocket.StatusNormalClosure, "")
}

type WebstreamClient struct {
	mu      sync.Mutex
	wg      sync.WaitGroup
	srv     *WebstreamServer
	c       *websocket.Conn
	logger  zerolog.Logger
	closed  atomic.Bool
	out     chan []byte
	skipped atomic.Uint64
	pushed  atomic.Uint64
	sublist map[string]*sublist.Sublist
}

func (wc *WebstreamClient) readloop(ctx context.Context) {
	defer wc.wg.Done()
	defer wc.closed.Store(true)
	for {
		_, msg, err := wc.c.Read(ctx)
		if err != nil {
			if websocket.CloseStatus(err) == -1 && ctx.Err() == nil {
				wc.logger.Err(err).Msg("Error while reading from connection")
			}
			return
		}
		cmd, senders := parseCommand(string(msg))
		switch cmd {
		case CAddSub:
			wc.logger.Debug().Strs("addsub", senders).Msg("receive add subscription message")
			for _, v := range senders {
				wc.subscribe(v)
			}
		case CDelSub:
			wc.logger.Debug().Strs("delsub", senders).Msg("receive delete subscription message")
			for _, v := range senders {
				wc.unsubscribe(v)
			}
		default:
			wc.logger.Warn().Str("msg", string(msg)).Msg("unknown command")
			continue
		}
		if err := wsjson.Write(ctx, wc.c, ack{Command: cmd, Senders: wc.Senders()}); err != nil {
			wc.logger.Err(err).Msg("Error while writing ack")
			return
		}
	}
}

func (wc *WebstreamClient) writeLoop(ctx context.Context) {
	defer wc.wg.Done()
	for {
		select {
		case <-ctx.Done():
			return
		case d := <-wc.out:
			writeCtx, cancel := context.WithTimeout(ctx, 5*time.Second)
			err := wc.c.Write(writeCtx, websocket.MessageText, d)
			cancel()
			if err != nil {
				wc.logger.Err(err).Msg("Error while writing to connection")
				wc.closed.Store(true)
				return
			}
		}
	}
}

// Push queues a frame without blocking the feed. A full queue skips the frame.
func (wc *WebstreamClient) Push(sender string, data []byte) bool {
	if wc.closed.Load() {
		return true
	}
	select {
	case wc.out <- data:
		wc.pushed.Add(1)
	default:
		wc.skipped.Add(1)
	}
	return false
}

func (wc *WebstreamClient) Pushed() uint64  { return wc.pushed.Load() }
func (wc *WebstreamClient) Skipped() uint64 { return wc.skipped.Load() }

func (wc *WebstreamClient) Senders() []string {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	out := make([]string, 0, len(wc.sublist))
	for k := range wc.sublist {
		out = append(out, k)
	}
	return out
}

func (wc *WebstreamClient) subscribe(sender string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if _, ok := wc.sublist[sender]; ok {
		return
	}
	l, _ := wc.srv.subs.GetSublist(sender, true)
	l.Subscribe(wc)
	wc.sublist[sender] = l
}

func (wc *WebstreamClient) unsubscribe(sender string) {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	if l, ok := wc.sublist[sender]; ok {
		l.Unsubscribe(wc)
		delete(wc.sublist, sender)
	}
}

func (wc *WebstreamClient) unsubscribeAll() {
	wc.mu.Lock()
	defer wc.mu.Unlock()
	for k, l := range wc.sublist {
		l.Unsubscribe(wc)
		delete(wc.sublist, k)
	}
}

// parseCommand splits "ADDSUB a,b" into the command and its sender list.
func parseCommand(msg string) (string, []string) {
	msg = strings.TrimSpace(msg)
	cmd, rest, _ := strings.Cut(msg, " ")
	var senders []string
	for _, v := range strings.Split(rest, ",") {
		if v = strings.TrimSpace(v); v != "" {
			senders = append(senders, v)
		}
	}
	return cmd, senders
}
