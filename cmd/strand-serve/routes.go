package main

import (
	"io"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/watt-toolkit/strand/pkg/strand/http11"
	"github.com/watt-toolkit/strand/pkg/strand/server"
	"github.com/watt-toolkit/strand/pkg/strand/websocket"
)

// echoReply is the JSON body of /echo.
type echoReply struct {
	Method     string      `json:"method"`
	Path       string      `json:"path"`
	Query      string      `json:"query,omitempty"`
	Proto      string      `json:"proto"`
	RemoteAddr string      `json:"remote_addr,omitempty"`
	Headers    [][2]string `json:"headers"`
	Body       string      `json:"body,omitempty"`
}

// router dispatches the demo routes by path.
type router struct {
	stats  func() server.Snapshot
	logger *zap.Logger
}

func (rt *router) Handle(req *http11.Request) (*http11.Response, error) {
	switch req.Path {
	case "/":
		return http11.Text(http11.StatusOK, "Hello World!"), nil
	case "/stream":
		return http11.NewResponse(http11.StatusOK).
			WithHeader(http11.HeaderContentType, "text/plain; charset=utf-8").
			WithStream(func(w io.Writer) error {
				for _, part := range []string{"Wiki", "pedia"} {
					if _, err := io.WriteString(w, part); err != nil {
						return err
					}
				}
				return nil
			}), nil
	case "/stats":
		return jsonResponse(http11.StatusOK, rt.stats())
	case "/echo":
		return rt.echo(req)
	case "/ws":
		return rt.handshake(req)
	case "/redirect":
		return http11.Redirect("/"), nil
	}
	return server.NotFound.Handle(req)
}

func (rt *router) echo(req *http11.Request) (*http11.Response, error) {
	reply := echoReply{
		Method:     req.Method,
		Path:       req.Path,
		Query:      req.Query,
		Proto:      req.Proto,
		RemoteAddr: req.RemoteAddr,
		Headers:    make([][2]string, 0, req.Header.Len()),
		Body:       string(req.Body),
	}
	req.Header.VisitAll(func(name, value string) bool {
		reply.Headers = append(reply.Headers, [2]string{name, value})
		return true
	})
	return jsonResponse(http11.StatusOK, reply)
}

// handshake completes the websocket handshake, sends one text frame and a
// normal close frame, then closes the connection.
func (rt *router) handshake(req *http11.Request) (*http11.Response, error) {
	resp, err := websocket.Accept(req, func(up *http11.Upgraded) {
		defer up.Close()
		up.SetDeadline(time.Now().Add(5 * time.Second))
		greeting := "strand"
		frame := append([]byte{0x81, byte(len(greeting))}, greeting...)
		frame = append(frame, 0x88, 0x02, 0x03, 0xe8)
		if _, err := up.Write(frame); err != nil {
			rt.logger.Debug("websocket write failed", zap.Error(err))
		}
	})
	if err != nil {
		rt.logger.Debug("websocket handshake rejected",
			zap.String("remote", req.RemoteAddr),
			zap.Error(err))
	}
	return resp, nil
}

func jsonResponse(status int, v any) (*http11.Response, error) {
	body, err := json.Marshal(v)
	if err != nil {
		return nil, err
	}
	return http11.NewResponse(status).
		WithHeader(http11.HeaderContentType, "application/json").
		WithBody(body), nil
}
