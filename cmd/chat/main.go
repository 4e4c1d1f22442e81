package main

import (
	"bufio"
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/joho/godotenv"
	"github.com/rs/zerolog/log"
	"github.com/spf13/cobra"

	"github.com/zhouzirui/memchat/internal/config"
	"github.com/zhouzirui/memchat/internal/logging"
	"github.com/zhouzirui/memchat/internal/model/persona"
	"github.com/zhouzirui/memchat/internal/session"
	"github.com/zhouzirui/memchat/internal/session/store"
)

type options struct {
	server    string
	storeDSN  string
	sessionID string
	persona   string
}

func main() {
	_ = godotenv.Load()
	if err := logging.Setup(config.LoadLogConfig("console"), os.Stderr); err != nil {
		fmt.Fprintln(os.Stderr, err)
		os.Exit(1)
	}

	ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	if err := newRootCmd().ExecuteContext(ctx); err != nil {
		os.Exit(1)
	}
}

func newRootCmd() *cobra.Command {
	defaults := config.LoadClientConfig()
	opts := options{}

	cmd := &cobra.Command{
		Use:   "memchat",
		Short: "Chat with short-term memory from the terminal",
		Long: `memchat sends every line you type to a memchat server together with the
persona and the conversation so far, and prints the reply as it streams in.

Commands:
  /reset            start a new conversation (lets you change the persona)
  /persona <text>   set the persona, or a preset id, before the first message
  /history          print the conversation
  /dismiss          clear the last error
  /quit             leave`,
		SilenceUsage: true,
		RunE: func(cmd *cobra.Command, args []string) error {
			return run(cmd.Context(), opts, cmd.InOrStdin(), cmd.OutOrStdout())
		},
	}

	cmd.Flags().StringVar(&opts.server, "server", defaults.ServerURL, "memchat server base URL")
	cmd.Flags().StringVar(&opts.storeDSN, "store", defaults.StoreDSN, `session store: "memory" or a SQLite file path`)
	cmd.Flags().StringVar(&opts.sessionID, "session", defaults.SessionID, "session id to resume (random when empty)")
	cmd.Flags().StringVar(&opts.persona, "persona", "", "persona text or preset id for a new conversation")
	return cmd
}

func run(ctx context.Context, opts options, in io.Reader, out io.Writer) error {
	kv, err := store.Open(opts.storeDSN)
	if err != nil {
		return err
	}
	defer func() {
		if err := kv.Close(); err != nil {
			log.Warn().Err(err).Msg("failed to close session store")
		}
	}()

	presets := persona.NewMemoryStore(persona.Seed())
	sess, err := session.Open(ctx, session.Options{
		ID:             opts.sessionID,
		Store:          kv,
		Transport:      session.NewClient(opts.server, nil),
		DefaultPersona: presets.Default().Prompt,
		OnChunk: func(chunk string) {
			fmt.Fprint(out, chunk)
		},
	})
	if err != nil {
		return err
	}

	r := &repl{sess: sess, presets: presets, out: out}
	if opts.persona != "" {
		r.setPersona(ctx, opts.persona)
	}

	fmt.Fprintf(out, "session %s\npersona: %s\n", sess.ID(), sess.Persona())
	r.printHistory()

	scanner := bufio.NewScanner(in)
	for {
		fmt.Fprint(out, "> ")
		if !scanner.Scan() {
			fmt.Fprintln(out)
			return scanner.Err()
		}
		if quit := r.handle(ctx, scanner.Text()); quit {
			return nil
		}
		if ctx.Err() != nil {
			return nil
		}
	}
}

type repl struct {
	sess    *session.Session
	presets persona.Store
	out     io.Writer
}

// handle runs one input line and reports whether the REPL should stop.
func (r *repl) handle(ctx context.Context, line string) bool {
	line = strings.TrimSpace(line)
	switch {
	case line == "":
		return false
	case line == "/quit" || line == "/exit":
		return true
	case line == "/reset":
		if err := r.sess.Reset(ctx); err != nil {
			fmt.Fprintf(r.out, "Error: %v\n", err)
			return false
		}
		fmt.Fprintln(r.out, "conversation cleared")
	case line == "/history":
		r.printHistory()
	case line == "/dismiss":
		r.sess.DismissError()
	case line == "/persona" || strings.HasPrefix(line, "/persona "):
		value := strings.TrimSpace(strings.TrimPrefix(line, "/persona"))
		if value == "" {
			fmt.Fprintf(r.out, "persona: %s\n", r.sess.Persona())
			return false
		}
		r.setPersona(ctx, value)
	case strings.HasPrefix(line, "/"):
		fmt.Fprintf(r.out, "unknown command %s\n", line)
	default:
		r.submit(ctx, line)
	}
	return false
}

func (r *repl) submit(ctx context.Context, input string) {
	err := r.sess.Submit(ctx, input)
	switch {
	case err == nil:
		fmt.Fprintln(r.out)
	case errors.Is(err, session.ErrNotReady) && r.sess.Err() != nil:
		fmt.Fprintf(r.out, "Error: %v (type /dismiss to continue)\n", r.sess.Err())
	default:
		if r.sess.LiveOutput() != "" {
			fmt.Fprintln(r.out)
		}
		fmt.Fprintf(r.out, "Error: %v (type /dismiss to continue)\n", err)
	}
}

func (r *repl) setPersona(ctx context.Context, value string) {
	if p, ok := r.presets.FindByID(value); ok {
		value = p.Prompt
	}
	if err := r.sess.SetPersona(ctx, value); err != nil {
		if errors.Is(err, session.ErrPersonaLocked) {
			fmt.Fprintln(r.out, "Start a new chat (/reset) to change personality")
			return
		}
		fmt.Fprintf(r.out, "Error: %v\n", err)
		return
	}
	fmt.Fprintf(r.out, "persona: %s\n", value)
}

func (r *repl) printHistory() {
	for _, turn := range r.sess.History() {
		fmt.Fprintf(r.out, "[%s] %s\n", turn.Role, turn.Text)
	}
}
