// Command tc is a CLI client for the teamcal scheduling service.
package main

import (
	"context"
	"crypto/tls"
	"crypto/x509"
	"encoding/json"
	"errors"
	"flag"
	"fmt"
	"io"
	"os"
	"os/signal"
	"path/filepath"
	"syscall"
	"time"

	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/grpc/status"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/and161185/teamcal/internal/convert"
	grpcserver "github.com/and161185/teamcal/internal/server/grpc"
)

// ---- config/token store ----

type tokenFile struct {
	AccessToken string    `json:"access_token"`
	ExpiresAt   time.Time `json:"expires_at"`
	UserID      string    `json:"user_id,omitempty"`
}

func cfgDir() string {
	if v := os.Getenv("XDG_CONFIG_HOME"); v != "" {
		return filepath.Join(v, "teamcal")
	}
	home, _ := os.UserHomeDir()
	return filepath.Join(home, ".config", "teamcal")
}

func tokenPath() string { return filepath.Join(cfgDir(), "token.json") }

func saveToken(tf tokenFile) error {
	if err := os.MkdirAll(cfgDir(), 0o700); err != nil {
		return err
	}
	f, err := os.OpenFile(tokenPath(), os.O_CREATE|os.O_WRONLY|os.O_TRUNC, 0o600)
	if err != nil {
		return err
	}
	defer f.Close()
	enc := json.NewEncoder(f)
	enc.SetIndent("", "  ")
	return enc.Encode(tf)
}

func loadToken() (string, error) {
	b, err := os.ReadFile(tokenPath())
	if err != nil {
		return "", err
	}
	var tf tokenFile
	if err := json.Unmarshal(b, &tf); err != nil {
		return "", err
	}
	if tf.AccessToken == "" || time.Now().After(tf.ExpiresAt) {
		return "", errors.New("no valid token (login required)")
	}
	return tf.AccessToken, nil
}

// tokenFromLogin turns a Login reply into the stored token file.
func tokenFromLogin(resp *structpb.Struct) (tokenFile, error) {
	r := convert.NewReader(resp)
	tf := tokenFile{
		AccessToken: r.String("access_token"),
		ExpiresAt:   r.Time("expires_at"),
		UserID:      r.String("user_id"),
	}
	if err := r.Err(); err != nil {
		return tokenFile{}, err
	}
	if tf.AccessToken == "" {
		return tokenFile{}, errors.New("empty access token")
	}
	return tf, nil
}

// ---- grpc dial ----

type target struct {
	addr      string
	caPath    string
	insecure  bool
	plaintext bool
}

type bearerCreds struct {
	token string
	tls   bool
}

func (b bearerCreds) GetRequestMetadata(context.Context, ...string) (map[string]string, error) {
	return map[string]string{"authorization": "Bearer " + b.token}, nil
}
func (b bearerCreds) RequireTransportSecurity() bool { return b.tls }

func loadTLS(caPath string, skipVerify bool) (credentials.TransportCredentials, error) {
	if skipVerify {
		return credentials.NewTLS(&tls.Config{InsecureSkipVerify: true}), nil
	}
	if caPath == "" {
		return credentials.NewClientTLSFromCert(nil, ""), nil
	}
	pem, err := os.ReadFile(caPath)
	if err != nil {
		return nil, err
	}
	pool := x509.NewCertPool()
	if !pool.AppendCertsFromPEM(pem) {
		return nil, errors.New("bad CA cert")
	}
	return credentials.NewTLS(&tls.Config{RootCAs: pool}), nil
}

func dialOptions(t target, bearer string) ([]grpc.DialOption, error) {
	var opts []grpc.DialOption
	if t.plaintext {
		opts = append(opts, grpc.WithTransportCredentials(insecure.NewCredentials()))
	} else {
		creds, err := loadTLS(t.caPath, t.insecure)
		if err != nil {
			return nil, err
		}
		opts = append(opts, grpc.WithTransportCredentials(creds))
	}
	if bearer != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(bearerCreds{token: bearer, tls: !t.plaintext}))
	}
	return opts, nil
}

func dial(t target, bearer string) (*grpc.ClientConn, *grpcserver.Client, error) {
	opts, err := dialOptions(t, bearer)
	if err != nil {
		return nil, nil, err
	}
	cc, err := grpc.NewClient(t.addr, opts...)
	if err != nil {
		return nil, nil, err
	}
	return cc, grpcserver.NewClient(cc), nil
}

// call dials and sends one request, exiting on any error.
func call(ctx context.Context, t target, authed bool, method string, req map[string]any) *structpb.Struct {
	bearer := ""
	if authed {
		tok, err := loadToken()
		if err != nil {
			fail(err)
		}
		bearer = tok
	}
	in, err := structpb.NewStruct(req)
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(t, bearer)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	out, err := cli.Call(ctx, method, in)
	if err != nil {
		fail(err)
	}
	return out
}

// ---- utils ----

func readAll(p string) ([]byte, error) {
	if p == "-" {
		return io.ReadAll(os.Stdin)
	}
	return os.ReadFile(p)
}

func printJSON(w io.Writer, msg *structpb.Struct) {
	b, err := protojson.MarshalOptions{Multiline: true, Indent: "  "}.Marshal(msg)
	if err != nil {
		fmt.Fprintln(os.Stderr, err)
		return
	}
	fmt.Fprintln(w, string(b))
}

func usage() {
	fmt.Fprintf(os.Stderr, `tc CLI
Usage:
  tc -addr HOST:PORT [-cacert file | -insecure | -plaintext] <cmd> [args]

Commands:
  version
  register      -u <username> -p <password>
  login         -u <username> -p <password>           (saves token)
  create        -title T -start RFC3339 -end RFC3339 [-freq daily|weekly|monthly|custom ...]
  create-batch  -file <events.json|->                  (atomic, all or nothing)
  check         -title T -start RFC3339 -end RFC3339   (conflicts only, nothing saved)
  get           -id <event>
  update        -id <event> [-title ... | -no-recurrence]
  delete        -id <event>
  share         -id <event> -user <uuid> -role VIEWER|EDITOR|OWNER
  unshare       -id <event> -user <uuid>
  perms         -id <event>
  history       -id <event> [-order asc|desc -offset N -limit N]
  show-version  -id <event> -seq N
  diff          -id <event> -from N -to N
  rollback      -id <event> -seq N
  occurrences   -from RFC3339 -to RFC3339
  notifications [-unread -order asc|desc -offset N -limit N]
  read          -id <notification>
  read-all
  watch                                                (streams until interrupted)
`)
	os.Exit(2)
}

// ---- main ----

var (
	version   = "dev"
	buildDate = "unknown"
)

// main dispatches subcommands and configures TLS/auth for RPC calls.
func main() {
	// global flags
	addr := flag.String("addr", "localhost:8443", "server addr")
	caPath := flag.String("cacert", "", "CA cert (PEM)")
	skipVerify := flag.Bool("insecure", false, "skip cert verify (dev)")
	plaintext := flag.Bool("plaintext", false, "no TLS (dev server without certs)")
	flag.Usage = usage
	flag.Parse()

	if flag.NArg() < 1 {
		usage()
	}
	cmd, args := flag.Arg(0), flag.Args()[1:]
	t := target{addr: *addr, caPath: *caPath, insecure: *skipVerify, plaintext: *plaintext}

	if cmd == "watch" {
		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		cmdWatch(ctx, t)
		return
	}

	ctx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
	defer cancel()

	switch cmd {

	case "version":
		fmt.Printf("tc %s (%s)\n", version, buildDate)

	case "register":
		u, p := credentialFlags("register", args)
		out := call(ctx, t, false, grpcserver.MethodRegister, map[string]any{"username": u, "password": p})
		printJSON(os.Stdout, out)

	case "login":
		u, p := credentialFlags("login", args)
		out := call(ctx, t, false, grpcserver.MethodLogin, map[string]any{"username": u, "password": p})
		tf, err := tokenFromLogin(out)
		if err != nil {
			fail(err)
		}
		if err := saveToken(tf); err != nil {
			fail(err)
		}
		fmt.Println("ok")

	case "create", "check":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		var ef eventFlags
		ef.register(fs)
		_ = fs.Parse(args)
		req, err := ef.draft()
		if err != nil {
			fail(err)
		}
		method := grpcserver.MethodCreateEvent
		if cmd == "check" {
			method = grpcserver.MethodCheckConflicts
		}
		printJSON(os.Stdout, call(ctx, t, true, method, req))

	case "create-batch":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		file := fs.String("file", "", "JSON file with an event list, - for stdin")
		_ = fs.Parse(args)
		if *file == "" {
			fmt.Fprintln(os.Stderr, "need -file")
			os.Exit(1)
		}
		b, err := readAll(*file)
		if err != nil {
			fail(err)
		}
		req, err := batchRequest(b)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodCreateEvents, req))

	case "get", "delete", "perms":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "event id (uuid)")
		_ = fs.Parse(args)
		if err := requireID("id", *id); err != nil {
			fail(err)
		}
		method := map[string]string{
			"get":    grpcserver.MethodGetEvent,
			"delete": grpcserver.MethodDeleteEvent,
			"perms":  grpcserver.MethodListPermissions,
		}[cmd]
		printJSON(os.Stdout, call(ctx, t, true, method, map[string]any{"event_id": *id}))

	case "update":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "event id (uuid)")
		var ef eventFlags
		ef.register(fs)
		noRec := fs.Bool("no-recurrence", false, "drop the recurrence rule")
		_ = fs.Parse(args)
		if err := requireID("id", *id); err != nil {
			fail(err)
		}
		patch, err := ef.patch(fs, *noRec)
		if err != nil {
			fail(err)
		}
		req := map[string]any{"event_id": *id, "patch": patch}
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodUpdateEvent, req))

	case "share", "unshare":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "event id (uuid)")
		user := fs.String("user", "", "user id (uuid)")
		role := fs.String("role", "VIEWER", "VIEWER, EDITOR or OWNER")
		_ = fs.Parse(args)
		req, err := shareRequest(cmd == "share", *id, *user, *role)
		if err != nil {
			fail(err)
		}
		method := grpcserver.MethodShareEvent
		if cmd == "unshare" {
			method = grpcserver.MethodUnshareEvent
		}
		printJSON(os.Stdout, call(ctx, t, true, method, req))

	case "history":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "event id (uuid)")
		var pf pageFlags
		pf.register(fs)
		_ = fs.Parse(args)
		if err := requireID("id", *id); err != nil {
			fail(err)
		}
		req, err := pf.apply(map[string]any{"event_id": *id})
		if err != nil {
			fail(err)
		}
		out := call(ctx, t, true, grpcserver.MethodHistory, req)
		printChangelog(os.Stdout, out)

	case "show-version", "rollback":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "event id (uuid)")
		seq := fs.Int64("seq", 0, "version number")
		_ = fs.Parse(args)
		if err := requireID("id", *id); err != nil {
			fail(err)
		}
		if *seq < 1 {
			fmt.Fprintln(os.Stderr, "need -seq >= 1")
			os.Exit(1)
		}
		method := grpcserver.MethodGetVersion
		if cmd == "rollback" {
			method = grpcserver.MethodRollback
		}
		printJSON(os.Stdout, call(ctx, t, true, method, map[string]any{"event_id": *id, "seq": *seq}))

	case "diff":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "event id (uuid)")
		from := fs.Int64("from", 0, "older version")
		to := fs.Int64("to", 0, "newer version")
		_ = fs.Parse(args)
		if err := requireID("id", *id); err != nil {
			fail(err)
		}
		req := map[string]any{"event_id": *id, "from": *from, "to": *to}
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodDiff, req))

	case "occurrences":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		from := fs.String("from", "", "window start (RFC 3339)")
		to := fs.String("to", "", "window end (RFC 3339)")
		_ = fs.Parse(args)
		req, err := windowRequest(*from, *to)
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodOccurrences, req))

	case "notifications":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		unread := fs.Bool("unread", false, "only unread")
		var pf pageFlags
		pf.register(fs)
		_ = fs.Parse(args)
		req, err := pf.apply(map[string]any{"unread_only": *unread})
		if err != nil {
			fail(err)
		}
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodListNotifications, req))

	case "read":
		fs := flag.NewFlagSet(cmd, flag.ExitOnError)
		id := fs.String("id", "", "notification id (uuid)")
		_ = fs.Parse(args)
		if err := requireID("id", *id); err != nil {
			fail(err)
		}
		req := map[string]any{"notification_id": *id}
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodMarkNotificationRead, req))

	case "read-all":
		printJSON(os.Stdout, call(ctx, t, true, grpcserver.MethodMarkAllNotificationsRead, nil))

	default:
		usage()
	}
}

// ---- helpers ----

func credentialFlags(name string, args []string) (string, string) {
	fs := flag.NewFlagSet(name, flag.ExitOnError)
	u := fs.String("u", "", "username")
	p := fs.String("p", "", "password")
	_ = fs.Parse(args)
	if *u == "" || *p == "" {
		fmt.Fprintln(os.Stderr, "need -u and -p")
		os.Exit(1)
	}
	return *u, *p
}

func cmdWatch(ctx context.Context, t target) {
	tok, err := loadToken()
	if err != nil {
		fail(err)
	}
	cc, cli, err := dial(t, tok)
	if err != nil {
		fail(err)
	}
	defer cc.Close()

	stream, err := cli.Watch(ctx)
	if err != nil {
		fail(err)
	}
	if err := drain(ctx, stream, os.Stdout); err != nil {
		fail(err)
	}
}

// drain prints stream messages until the server ends the stream or ctx is canceled.
func drain(ctx context.Context, stream grpc.ServerStreamingClient[structpb.Struct], w io.Writer) error {
	for {
		msg, err := stream.Recv()
		if errors.Is(err, io.EOF) {
			return nil
		}
		if err != nil {
			if ctx.Err() != nil {
				return nil
			}
			return err
		}
		printJSON(w, msg)
	}
}

func fail(err error) {
	if s, ok := status.FromError(err); ok {
		fmt.Fprintf(os.Stderr, "rpc error: code=%s msg=%s\n", s.Code(), s.Message())
		os.Exit(1)
	}
	fmt.Fprintln(os.Stderr, err)
	os.Exit(1)
}
