package main

import (
	"bytes"
	"context"
	"errors"
	"flag"
	"fmt"
	"io"
	"log"
	"net"
	"net/http"
	"os"
	"os/signal"
	"strconv"
	"sync"
	"syscall"
	"time"

	"github.com/enbility/zeroconf/v3"
	"github.com/fxamacker/cbor/v2"
	"github.com/google/uuid"
	"github.com/gorilla/websocket"
	"github.com/segmentio/encoding/json"

	"github.com/mbfilter/pkg/filter"
)

const (
	mdnsServiceType = "_mbfilter._tcp"
	mdnsDomain      = "local."
)

type Client struct {
	id   string
	conn *websocket.Conn
	send chan interface{}
	done chan struct{}
}

// writePump pumps messages from the hub to the websocket connection.
// []byte values go out as binary (CBOR) frames, everything else as JSON text.
func (c *Client) writePump() {
	defer func() {
		close(c.done)
		c.conn.Close()
	}()
	for msg := range c.send {
		var err error
		switch v := msg.(type) {
		case []byte:
			err = c.conn.WriteMessage(websocket.BinaryMessage, v)
		default:
			var data []byte
			if data, err = json.Marshal(v); err == nil {
				err = c.conn.WriteMessage(websocket.TextMessage, data)
			}
		}
		if err != nil {
			return
		}
	}
	c.conn.WriteMessage(websocket.CloseMessage, []byte{})
}

// reply queues a direct answer. Unlike broadcasts it waits for room in the
// queue unless the connection is gone.
func (c *Client) reply(msg interface{}) {
	select {
	case c.send <- msg:
	case <-c.done:
	}
}

// Server is the remote configuration endpoint.
type Server struct {
	dev   *filter.Device
	state *ServerState

	upgrader websocket.Upgrader

	clientsMu sync.RWMutex
	clients   map[*Client]bool
}

func NewServer(dev *filter.Device, state *ServerState) *Server {
	return &Server{
		dev:   dev,
		state: state,
		upgrader: websocket.Upgrader{
			CheckOrigin:     func(r *http.Request) bool { return true },
			ReadBufferSize:  1024,
			WriteBufferSize: 65536,
		},
		clients: make(map[*Client]bool),
	}
}

// Handler returns the HTTP routes of the server.
func (s *Server) Handler() http.Handler {
	mux := http.NewServeMux()
	mux.HandleFunc("/websocket", s.handleWebsocket)
	mux.HandleFunc("/api/filter/config", s.handleFilterConfig)
	mux.HandleFunc("/api/filter/state", s.handleFilterState)
	return mux
}

// apply runs one configuration request.
func (s *Server) apply(holder string, fields map[string]string) filter.Outcome {
	out := filter.Apply(s.dev, holder, fields)
	s.state.recordOutcome(holder, out)
	if out.Accepted() {
		log.Printf("[SERVER] %s applied %s", holder, out.Config)
	} else {
		log.Printf("[SERVER] %s rejected: %s", holder, out.Reason)
	}
	return out
}

// announce tells every client about an accepted configuration. It is called
// after the requester got its reply.
func (s *Server) announce(holder string, out filter.Outcome) {
	if !out.Accepted() {
		return
	}
	s.broadcastJSON(map[string]interface{}{
		"type":   "config_update",
		"config": out.Config,
		"holder": holder,
	})
}

func (s *Server) handleWebsocket(w http.ResponseWriter, r *http.Request) {
	conn, err := s.upgrader.Upgrade(w, r, nil)
	if err != nil {
		log.Println("[SERVER] Upgrade:", err)
		return
	}

	client := &Client{
		id:   uuid.NewString(),
		conn: conn,
		send: make(chan interface{}, 256),
		done: make(chan struct{}),
	}
	holder := "ws:" + client.id
	log.Printf("[SERVER] Client %s connected from %s", client.id, r.RemoteAddr)

	s.clientsMu.Lock()
	s.clients[client] = true
	s.clientsMu.Unlock()

	go client.writePump()

	defer func() {
		s.clientsMu.Lock()
		delete(s.clients, client)
		s.clientsMu.Unlock()
		close(client.send) // This will stop writePump
		log.Printf("[SERVER] Client %s disconnected", client.id)
	}()

	// A configuration in the query string is applied right away
	if fields := queryFields(r); len(fields) > 0 {
		out := s.apply(holder, fields)
		client.reply(out)
		s.announce(holder, out)
	}

	for {
		kind, msg, err := conn.ReadMessage()
		if err != nil {
			return
		}
		switch kind {
		case websocket.TextMessage:
			fields, err := decodeJSONRequest(msg)
			if err != nil {
				client.reply(filter.Rejected(err))
				continue
			}
			out := s.apply(holder, fields)
			client.reply(out)
			s.announce(holder, out)
		case websocket.BinaryMessage:
			var out filter.Outcome
			fields, err := decodeCBORRequest(msg)
			if err != nil {
				out = filter.Rejected(err)
			} else {
				out = s.apply(holder, fields)
			}
			data, err := cbor.Marshal(out)
			if err != nil {
				log.Printf("[SERVER] CBOR encode: %v", err)
				continue
			}
			client.reply(data)
			s.announce(holder, out)
		}
	}
}

func queryFields(r *http.Request) map[string]string {
	q := r.URL.Query()
	fields := make(map[string]string)
	for _, k := range []string{filter.KeyFlankRise, filter.KeyPlateau, filter.KeyDecayMultiplier, filter.KeyPeakThreshold, filter.KeyDeadTime} {
		if q.Has(k) {
			fields[k] = q.Get(k)
		}
	}
	return fields
}

func decodeJSONRequest(data []byte) (map[string]string, error) {
	var req map[string]interface{}
	dec := json.NewDecoder(bytes.NewReader(data))
	dec.UseNumber()
	if err := dec.Decode(&req); err != nil {
		return nil, fmt.Errorf("%w: malformed JSON request: %v", filter.ErrInvalidParameters, err)
	}
	return requestFields(req), nil
}

func decodeCBORRequest(data []byte) (map[string]string, error) {
	var req map[string]interface{}
	if err := cbor.Unmarshal(data, &req); err != nil {
		return nil, fmt.Errorf("%w: malformed CBOR request: %v", filter.ErrInvalidParameters, err)
	}
	return requestFields(req), nil
}

// requestFields flattens decoded request values to the strings the
// configuration parser expects. Non-integral numbers stay non-integral and
// fail validation.
func requestFields(req map[string]interface{}) map[string]string {
	fields := make(map[string]string, len(req))
	for k, v := range req {
		switch v := v.(type) {
		case string:
			fields[k] = v
		case json.Number:
			fields[k] = v.String()
		case float64:
			fields[k] = strconv.FormatFloat(v, 'f', -1, 64)
		case uint64:
			fields[k] = strconv.FormatUint(v, 10)
		case int64:
			fields[k] = strconv.FormatInt(v, 10)
		default:
			fields[k] = fmt.Sprint(v)
		}
	}
	return fields
}

func httpStatus(out filter.Outcome) int {
	switch out.Reason {
	case filter.ReasonNone:
		return http.StatusOK
	case filter.ReasonInvalidParameters:
		return http.StatusBadRequest
	case filter.ReasonDeviceBusy, filter.ReasonWrongState:
		return http.StatusConflict
	default:
		return http.StatusBadGateway
	}
}

func writeJSON(w http.ResponseWriter, code int, v interface{}) {
	w.Header().Set("Content-Type", "application/json")
	w.WriteHeader(code)
	json.NewEncoder(w).Encode(v)
}

// POST /api/filter/config
func (s *Server) handleFilterConfig(w http.ResponseWriter, r *http.Request) {
	if r.Method != http.MethodPost {
		http.Error(w, "Method not allowed", http.StatusMethodNotAllowed)
		return
	}
	body, err := io.ReadAll(io.LimitReader(r.Body, 64*1024))
	if err != nil {
		http.Error(w, err.Error(), http.StatusBadRequest)
		return
	}
	fields, err := decodeJSONRequest(body)
	if err != nil {
		out := filter.Rejected(err)
		writeJSON(w, httpStatus(out), out)
		return
	}
	holder := "http:" + r.RemoteAddr
	out := s.apply(holder, fields)
	writeJSON(w, httpStatus(out), out)
	s.announce(holder, out)
}

// GET /api/filter/state
func (s *Server) handleFilterState(w http.ResponseWriter, r *http.Request) {
	st, err := s.dev.Status()
	if err != nil {
		writeJSON(w, http.StatusBadGateway, map[string]interface{}{
			"success": false,
			"error":   err.Error(),
		})
		return
	}
	writeJSON(w, http.StatusOK, map[string]interface{}{
		"success": true,
		"device":  st,
		"server":  s.state.snapshot(),
	})
}

func (s *Server) broadcastJSON(msg interface{}) {
	s.clientsMu.RLock()
	defer s.clientsMu.RUnlock()

	for client := range s.clients {
		select {
		case client.send <- msg:
		default:
		}
	}
}

// advertise publishes the endpoint over mDNS until the returned function is called.
func advertise(port int) (func(), error) {
	host, _ := os.Hostname()
	server, err := zeroconf.Register(
		"mbfilter-"+host,
		mdnsServiceType,
		mdnsDomain,
		port,
		[]string{"path=/websocket", "api=/api/filter"},
		nil,
	)
	if err != nil {
		return nil, fmt.Errorf("failed to register mDNS service: %w", err)
	}
	return server.Shutdown, nil
}

// runServer serves the remote configuration endpoint. With -o and -s it also
// runs a local capture session in the same process, sharing the guard.
func runServer(args []string) int {
	fs := flag.NewFlagSet("server", flag.ContinueOnError)
	var o deviceOptions
	o.register(fs)
	listen := fs.String("listen", ":8080", "Address to listen on")
	advertiseMDNS := fs.Bool("advertise", false, "Advertise the endpoint over mDNS")
	var size sizeFlag
	fs.Var(&size, "s", "Size of a local capture to run alongside the server")
	sinkOpts := SinkOptions{}
	fs.StringVar(&sinkOpts.Output, "o", "", "Output file of the local capture")
	fs.StringVar(&sinkOpts.Format, "format", "raw", "Output format: raw or parquet")
	fs.StringVar(&sinkOpts.Compress, "compress", "none", "Output compression: none, zstd, lz4 or brotli")
	configFile := fs.String("c", "", "Filter configuration loaded by the local capture before it starts")
	if err := fs.Parse(args); err != nil {
		return exitUsage
	}
	setupLogging(o.verbose)

	var cfg *filter.Config
	if *configFile != "" {
		c, err := loadFilterConfig(*configFile)
		if err != nil {
			fmt.Fprintf(os.Stderr, "Invalid configuration: %v\n", err)
			return exitUsage
		}
		cfg = &c
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	dev, cleanup, err := openDevice(ctx, o)
	if err != nil {
		log.Printf("Failed to open device: %v", err)
		return exitFailure
	}
	defer cleanup()

	state := newServerState()
	state.CommandDevice = o.commandDevice
	state.DataDevice = o.dataDevice
	srv := NewServer(dev, state)

	ln, err := net.Listen("tcp", *listen)
	if err != nil {
		log.Printf("[SERVER] Listen: %v", err)
		return exitFailure
	}
	httpServer := &http.Server{Handler: srv.Handler()}

	if *advertiseMDNS {
		shutdown, err := advertise(ln.Addr().(*net.TCPAddr).Port)
		if err != nil {
			log.Printf("[SERVER] %v", err)
		} else {
			defer shutdown()
		}
	}

	var wg sync.WaitGroup
	if sinkOpts.Output != "" && size > 0 {
		wg.Add(1)
		go func() {
			defer wg.Done()
			srv.runLocalCapture(ctx, int64(size), sinkOpts, cfg)
		}()
	}

	go func() {
		<-ctx.Done()
		shutdownCtx, cancel := context.WithTimeout(context.Background(), 2*time.Second)
		defer cancel()
		httpServer.Shutdown(shutdownCtx)
	}()

	log.Printf("[SERVER] Filter configuration endpoint listening on ws://%s/websocket", ln.Addr())
	if o.sim {
		log.Printf("[SERVER] Device: simulated")
	} else {
		log.Printf("[SERVER] Device: %s / %s", o.commandDevice, o.dataDevice)
	}
	err = httpServer.Serve(ln)
	stop()
	wg.Wait()
	if err != nil && !errors.Is(err, http.ErrServerClosed) {
		log.Printf("[SERVER] %v", err)
		return exitFailure
	}
	return exitOK
}

// runLocalCapture is the local capture session of a server process.
func (s *Server) runLocalCapture(ctx context.Context, target int64, sinkOpts SinkOptions, cfg *filter.Config) {
	s.state.setCapture(&CaptureProgress{Output: sinkOpts.Output, Target: target, Running: true})
	log.Printf("[CAPTURE] Local capture of %d bytes to %s", target, sinkOpts.Output)

	res, err := s.captureSession(ctx, target, sinkOpts, cfg)
	s.state.updateCapture(func(p *CaptureProgress) {
		p.Running = false
		if res != nil {
			p.Written = res.Bytes
			p.Reason = res.Reason
		} else {
			p.Reason = filter.ReasonOf(err)
		}
		if err != nil {
			p.Error = err.Error()
		}
	})
	s.broadcastJSON(map[string]interface{}{
		"type":   "capture_done",
		"output": sinkOpts.Output,
		"reason": filter.ReasonOf(err),
	})
	if err != nil {
		log.Printf("[CAPTURE] Local capture ended: %v", err)
	}
}

func (s *Server) captureSession(ctx context.Context, target int64, sinkOpts SinkOptions, cfg *filter.Config) (*filter.CaptureResult, error) {
	return startCapture(ctx, s.dev, "server:capture", target, sinkOpts, cfg, io.Discard, func(total int64) {
		s.state.updateCapture(func(p *CaptureProgress) { p.Written = total })
	})
}
