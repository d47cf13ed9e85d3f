// Command strand-fetch sends one HTTP/1.1 request with the strand client
// and prints the response.
//
//	strand-fetch [-X method] [-H 'Name: value']... [-d body] [-k] [-v] [-json] URL
package main

import (
	"bytes"
	"context"
	"crypto/tls"
	"errors"
	"flag"
	"fmt"
	"io"
	"net"
	"os"
	"strings"
	"time"

	"github.com/goccy/go-json"
	"go.uber.org/zap"

	"github.com/watt-toolkit/strand/pkg/strand/client"
	"github.com/watt-toolkit/strand/pkg/strand/http11"
)

// headerFlags collects repeated -H values.
type headerFlags []string

func (h *headerFlags) String() string { return strings.Join(*h, ", ") }

func (h *headerFlags) Set(v string) error {
	if !strings.Contains(v, ":") {
		return fmt.Errorf("header %q is not of the form 'Name: value'", v)
	}
	*h = append(*h, v)
	return nil
}

type options struct {
	method  string
	headers headerFlags
	data    string
	timeout time.Duration
	verbose  bool
	asJSON   bool
	dev      bool
	insecure bool
	url      string
}

// jsonResponse is the -json output.
type jsonResponse struct {
	Status  int         `json:"status"`
	Reason  string      `json:"reason"`
	Proto   string      `json:"proto"`
	Headers [][2]string `json:"headers"`
	Body    string      `json:"body"`
}

func parseOptions(args []string, out io.Writer) (*options, error) {
	o := &options{}
	fs := flag.NewFlagSet("strand-fetch", flag.ContinueOnError)
	fs.SetOutput(out)
	fs.StringVar(&o.method, "X", "", "request method (default GET, or POST with -d)")
	fs.Var(&o.headers, "H", "request header 'Name: value' (repeatable)")
	fs.StringVar(&o.data, "d", "", "request body; @file reads it from a file")
	fs.DurationVar(&o.timeout, "timeout", 30*time.Second, "overall request timeout")
	fs.BoolVar(&o.verbose, "v", false, "print the response status line and headers")
	fs.BoolVar(&o.asJSON, "json", false, "print the response as JSON")
	fs.BoolVar(&o.dev, "dev", false, "log client events to stderr")
	fs.BoolVar(&o.insecure, "k", false, "skip TLS certificate verification for https URLs")
	if err := fs.Parse(args); err != nil {
		return nil, err
	}
	if fs.NArg() != 1 {
		return nil, errors.New("exactly one URL is required")
	}
	o.url = fs.Arg(0)
	if o.method == "" {
		o.method = http11.MethodGet
		if o.data != "" {
			o.method = http11.MethodPost
		}
	}
	return o, nil
}

func buildRequest(o *options) (*http11.Request, error) {
	var body []byte
	switch {
	case strings.HasPrefix(o.data, "@"):
		b, err := os.ReadFile(o.data[1:])
		if err != nil {
			return nil, err
		}
		body = b
	case o.data != "":
		body = []byte(o.data)
	}

	req, err := http11.NewRequest(strings.ToUpper(o.method), o.url, body)
	if err != nil {
		return nil, err
	}
	for _, h := range o.headers {
		name, value, _ := strings.Cut(h, ":")
		if err := req.Header.Add(strings.TrimSpace(name), strings.TrimSpace(value)); err != nil {
			return nil, err
		}
	}
	return req, nil
}

func printResponse(w io.Writer, o *options, resp *http11.Response) error {
	if o.asJSON {
		out := jsonResponse{
			Status:  resp.Status,
			Reason:  resp.ReasonPhrase(),
			Proto:   resp.Proto,
			Headers: make([][2]string, 0, resp.Header.Len()),
			Body:    string(resp.Body),
		}
		resp.Header.VisitAll(func(name, value string) bool {
			out.Headers = append(out.Headers, [2]string{name, value})
			return true
		})
		enc := json.NewEncoder(w)
		enc.SetIndent("", "  ")
		return enc.Encode(out)
	}

	if o.verbose {
		var head bytes.Buffer
		fmt.Fprintf(&head, "%s %d %s\r\n", resp.Proto, resp.Status, resp.ReasonPhrase())
		resp.Header.WriteTo(&head)
		head.WriteString("\r\n")
		if _, err := w.Write(head.Bytes()); err != nil {
			return err
		}
	}
	_, err := w.Write(resp.Body)
	return err
}

// tlsDialer returns the TLS dial function the client needs for https.
func tlsDialer(insecure bool) client.DialFunc {
	return func(ctx context.Context, network, addr string) (net.Conn, error) {
		host, _, err := net.SplitHostPort(addr)
		if err != nil {
			return nil, err
		}
		d := &tls.Dialer{Config: &tls.Config{
			ServerName:         host,
			MinVersion:         tls.VersionTLS12,
			NextProtos:         []string{"http/1.1"},
			InsecureSkipVerify: insecure,
		}}
		return d.DialContext(ctx, network, addr)
	}
}

func run(args []string, stdout, stderr io.Writer) int {
	o, err := parseOptions(args, stderr)
	if errors.Is(err, flag.ErrHelp) {
		return 0
	}
	if err != nil {
		fmt.Fprintln(stderr, "strand-fetch:", err)
		return 2
	}

	logger := zap.NewNop()
	if o.dev {
		if logger, err = zap.NewDevelopment(); err != nil {
			fmt.Fprintln(stderr, "strand-fetch:", err)
			return 1
		}
		defer logger.Sync()
	}

	req, err := buildRequest(o)
	if err != nil {
		fmt.Fprintln(stderr, "strand-fetch:", err)
		return 2
	}

	ctx, cancel := context.WithTimeout(context.Background(), o.timeout)
	defer cancel()

	c := client.New(client.Config{
		DisablePool: true,
		DialTLS:     tlsDialer(o.insecure),
		Logger:      logger,
	})
	resp, err := c.Do(ctx, req)
	if err != nil {
		var ce *client.ConnectError
		if errors.As(err, &ce) {
			logger.Debug("connect failed", zap.String("addr", ce.Addr))
		}
		fmt.Fprintln(stderr, "strand-fetch:", err)
		return 1
	}
	if resp.Upgraded != nil {
		resp.Upgraded.Close()
	}

	if err := printResponse(stdout, o, resp); err != nil {
		fmt.Fprintln(stderr, "strand-fetch:", err)
		return 1
	}
	if resp.Status >= 400 {
		return 22
	}
	return 0
}

func main() {
	os.Exit(run(os.Args[1:], os.Stdout, os.Stderr))
}
