// Command relaydemo is an interactive driver for the connstate state
// machine: it lets an operator type connect/disconnect/join/leave commands
// at a prompt and watch the resulting transitions, without a real relay
// service or transport on the other end.
package main

import (
	"context"
	"flag"
	"io"
	"strconv"
	"strings"
	"time"

	"github.com/chzyer/readline"
	"github.com/go-faster/errors"

	"relaycore/internal/connstate"
	"relaycore/internal/deltafeed"
	"relaycore/internal/gate"
	"relaycore/internal/infra/clock"
	"relaycore/internal/infra/config"
	"relaycore/internal/infra/lifecycle"
	"relaycore/internal/infra/logger"
	"relaycore/internal/infra/pr"
	"relaycore/internal/infra/throttle"
	"relaycore/internal/quorum"
	"relaycore/internal/sessionstore"
	"relaycore/internal/telemetry"
)

// demoOwner implements connstate.Owner from loaded config plus whatever
// quorum the demo has constructed; ShouldClientJoinWrite is mutable so the
// operator can flip it from the prompt ("owner writes on|off").
type demoOwner struct {
	shouldJoinWrite bool
	maxLeaveWait    time.Duration
	hasMaxLeaveWait bool
	q               connstate.QuorumClients
}

func (o *demoOwner) ShouldClientJoinWrite() bool { return o.shouldJoinWrite }

func (o *demoOwner) MaxClientLeaveWait() (time.Duration, bool) {
	return o.maxLeaveWait, o.hasMaxLeaveWait
}

func (o *demoOwner) QuorumClients() (connstate.QuorumClients, bool) {
	if o.q == nil {
		return nil, false
	}
	return o.q, true
}

// core is the interface both *connstate.Core and *gate.Gate satisfy, so the
// demo can wire either in without branching its command handling.
type core interface {
	OnTransition(connstate.Listener) (cancel func())
	OnConnect(mode connstate.ConnectionMode, details connstate.ConnectDetails)
	OnDisconnect(reason string)
	ContainerSaved()
	ConnectionState() connstate.ConnectionState
}

func main() {
	envPath := flag.String("env", ".env", "path to a .env file (missing is not an error)")
	logFile := flag.String("log-file", "", "write logs to this rotating file instead of stdout (unattended runs)")
	flag.Parse()

	if err := config.Load(*envPath); err != nil {
		panic(err)
	}
	cfg := config.Current()
	logger.Init(cfg.LogLevel)
	if *logFile != "" {
		logger.SetRotatingFile(logger.RotatingFileOptions{
			Path:       *logFile,
			MaxSizeMB:  50,
			MaxBackups: 5,
			MaxAgeDays: 28,
			Compress:   true,
		})
	}
	for _, w := range config.Warnings() {
		logger.Warn(w)
	}

	if err := run(cfg); err != nil {
		logger.Errorf("relaydemo exited with error: %v", err)
	}
}

func run(cfg config.Env) error {
	lc := lifecycle.New(context.Background())

	var store *sessionstore.Store
	if err := lc.Register("sessionstore", nil,
		func(ctx context.Context) error {
			s, err := sessionstore.Open(cfg.SessionStorePath)
			if err != nil {
				return errors.Wrap(err, "open session store")
			}
			store = s
			return nil
		},
		func(context.Context) error {
			if store == nil {
				return nil
			}
			return store.Close()
		},
	); err != nil {
		return errors.Wrap(err, "register sessionstore step")
	}

	if err := lc.Register("readline", []string{"sessionstore"},
		func(ctx context.Context) error {
			if err := pr.Init(); err != nil {
				return errors.Wrap(err, "init readline")
			}
			pr.SetPrompt("relaydemo> ")
			return nil
		},
		func(context.Context) error {
			pr.InterruptReadline()
			return nil
		},
	); err != nil {
		return errors.Wrap(err, "register readline step")
	}

	if err := lc.StartAll(); err != nil {
		return errors.Wrap(err, "start subsystems")
	}
	defer func() {
		if err := lc.Shutdown(); err != nil {
			logger.Warnf("subsystem shutdown: %v", err)
		}
	}()

	lastClientID, err := store.LastClientID()
	if err != nil {
		return errors.Wrap(err, "load last client id")
	}

	clk := clock.Real
	q := quorum.New()
	sink := telemetry.New(logger.Logger(), clk)
	owner := &demoOwner{
		shouldJoinWrite: cfg.ShouldClientJoinWrite,
		q:               q,
	}
	if cfg.MaxClientLeaveWaitSeconds > 0 {
		owner.maxLeaveWait = time.Duration(cfg.MaxClientLeaveWaitSeconds) * time.Second
		owner.hasMaxLeaveWait = true
	}

	base := connstate.New(owner, sink, clk, lastClientID)
	base.InitProtocol(q)

	feed := deltafeed.New(0)
	var c core = base
	if cfg.CatchUpBeforeDeclaringConnected {
		c = gate.New(base, feed, clk)
	}

	c.OnTransition(func(newState, oldState connstate.ConnectionState, reason string) {
		pr.Printf("transition: %s -> %s (reason=%q)\n", oldState, newState, reason)
		if newState == connstate.Connected {
			if err := store.SaveClientID(base.ClientID()); err != nil {
				logger.Warnf("persist client id: %v", err)
			}
		}
	})

	// Reconnect pacing is an external policy, deliberately outside the core:
	// it only ever calls the same public OnConnect the operator's "connect"
	// command calls directly here. One token per second, no retries beyond
	// the single attempt the operator just asked for.
	limiter := throttle.New(1, throttle.WithMaxRetries(1))
	limiter.Start(context.Background())
	defer limiter.Stop()

	rl := pr.Rl()
	defer func() { _ = rl.Close() }()

	for {
		line, err := rl.Readline()
		if errors.Is(err, io.EOF) || errors.Is(err, readline.ErrInterrupt) {
			return nil
		}
		if err != nil {
			return errors.Wrap(err, "readline")
		}

		if err := dispatch(c, q, feed, owner, limiter, strings.TrimSpace(line)); err != nil {
			pr.ErrPrintln("error:", err)
		}
	}
}

func dispatch(c core, q *quorum.Table, feed *deltafeed.Feed, owner *demoOwner, limiter *throttle.Throttler, line string) error {
	fields := strings.Fields(line)
	if len(fields) == 0 {
		return nil
	}

	switch fields[0] {
	case "connect":
		if len(fields) != 3 {
			return errors.New("usage: connect <read|write> <clientId>")
		}
		mode := connstate.ModeRead
		if fields[1] == "write" {
			mode = connstate.ModeWrite
		}
		if err := limiter.Do(context.Background(), func() error {
			c.OnConnect(mode, connstate.ConnectDetails{ClientID: connstate.ClientID(fields[2])})
			return nil
		}); err != nil {
			return errors.Wrap(err, "reconnect throttled")
		}

	case "disconnect":
		reason := "manual"
		if len(fields) > 1 {
			reason = fields[1]
		}
		c.OnDisconnect(reason)

	case "join":
		if len(fields) != 2 {
			return errors.New("usage: join <clientId>")
		}
		q.HandleJoin(connstate.ClientID(fields[1]))

	case "leave":
		if len(fields) != 2 {
			return errors.New("usage: leave <clientId>")
		}
		q.HandleLeave(connstate.ClientID(fields[1]))

	case "saved":
		c.ContainerSaved()

	case "seq":
		if len(fields) != 2 {
			return errors.New("usage: seq <number>")
		}
		seq, err := strconv.ParseUint(fields[1], 10, 64)
		if err != nil {
			return errors.Wrap(err, "parse sequence number")
		}
		feed.Push(seq)

	case "owner":
		if len(fields) != 3 || fields[1] != "writes" {
			return errors.New("usage: owner writes <on|off>")
		}
		owner.shouldJoinWrite = fields[2] == "on"

	case "state":
		pr.PP(struct {
			State   connstate.ConnectionState
			Members []connstate.ClientID
		}{State: c.ConnectionState(), Members: q.Members()})

	case "help":
		pr.Println("commands: connect <read|write> <id>, disconnect [reason], join <id>, leave <id>, saved, seq <n>, owner writes <on|off>, state, quit")

	case "quit", "exit":
		pr.InterruptReadline()

	default:
		return errors.Errorf("unknown command %q, try 'help'", fields[0])
	}
	return nil
}

func clientIDFromQuorum(q *quorum.Table) connstate.ClientID {
	members := q.Members()
	if len(members) == 0 {
		return ""
	}
	return members[len(members)-1]
}
