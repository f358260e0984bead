package client

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"
	"github.com/swarmd/swarmd/snode"
	"github.com/swarmd/swarmd/std/log"
	"github.com/swarmd/swarmd/std/utils"
	"github.com/swarmd/swarmd/std/utils/toolutils"
)

// Cmds returns the client commands.
func Cmds() []*cobra.Command {
	return []*cobra.Command{
		CmdRun(),
		CmdSend(),
		CmdMessages(),
		CmdSwarm(),
		CmdPool(),
	}
}

// loadClient reads the configuration and creates a client, exiting on error.
func loadClient(t fmt.Stringer, file string, opts Options) *Client {
	config, err := ReadConfig(file)
	if err != nil {
		log.Fatal(t, "Unable to read configuration", "err", err)
		return nil
	}
	setupLogging(config)

	c, err := NewClient(config, opts)
	if err != nil {
		log.Fatal(t, "Unable to create client", "err", err)
		return nil
	}
	return c
}

// runTool is the common prefix for one-shot commands.
type runTool struct {
	name    string
	timeout time.Duration
}

func (t *runTool) String() string {
	return t.name
}

func (t *runTool) makeContext() (context.Context, context.CancelFunc) {
	ctx, cancel := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
	if t.timeout <= 0 {
		return ctx, cancel
	}
	tctx, tcancel := context.WithTimeout(ctx, t.timeout)
	return tctx, func() { tcancel(); cancel() }
}

func CmdRun() *cobra.Command {
	return &cobra.Command{
		GroupID: "run",
		Use:     "run CONFIG-FILE",
		Short:   "Start the swarmd client daemon",
		Long: `Start the swarmd client daemon.
Polls the swarms of the configured identity and groups until interrupted.`,
		Args:    cobra.ExactArgs(1),
		Example: `  swarmd run swarmd.yml`,
		Run:     run,
	}
}

func run(cmd *cobra.Command, args []string) {
	tool := &runTool{name: "swarmd-run"}
	c := loadClient(tool, args[0], Options{
		OnEvent: func(ev snode.Event, timestamp uint64) {
			log.Info(tool, "Network event", "event", ev, "timestamp", timestamp)
		},
	})

	sigchan := make(chan os.Signal, 1)
	signal.Notify(sigchan, os.Interrupt, syscall.SIGTERM)

	ctx, cancel := context.WithCancel(context.Background())
	defer cancel()
	if err := c.Start(ctx); err != nil {
		c.Stop()
		log.Fatal(tool, "Unable to start client", "err", err)
		return
	}

	// wait for interrupt
	<-sigchan
	if err := c.Stop(); err != nil {
		log.Error(tool, "Error while stopping client", "err", err)
	}
}

type sendTool struct {
	runTool
	to   string
	data string
	file string
	ttl  time.Duration
}

func CmdSend() *cobra.Command {
	st := sendTool{runTool: runTool{name: "swarmd-send"}}

	cmd := &cobra.Command{
		GroupID: "tools",
		Use:     "send CONFIG-FILE",
		Short:   "Send a message to a recipient's swarm",
		Long: `Send a message to the swarm of a recipient.
The message body is taken from --data, --file or the standard input.`,
		Args:    cobra.ExactArgs(1),
		Example: `  swarmd send swarmd.yml --to 05ab... --data hello`,
		Run:     st.run,
	}

	cmd.Flags().StringVar(&st.to, "to", "", "recipient public key (default: own identity)")
	cmd.Flags().StringVar(&st.data, "data", "", "message body")
	cmd.Flags().StringVar(&st.file, "file", "", "read message body from file, - for stdin")
	cmd.Flags().DurationVar(&st.ttl, "ttl", snode.Day, "message time to live")
	cmd.Flags().DurationVar(&st.timeout, "timeout", 2*time.Minute, "overall timeout")
	return cmd
}

func (st *sendTool) body() ([]byte, error) {
	switch st.file {
	case "":
		return []byte(st.data), nil
	case "-":
		return io.ReadAll(os.Stdin)
	default:
		return os.ReadFile(st.file)
	}
}

func (st *sendTool) run(_ *cobra.Command, args []string) {
	c := loadClient(st, args[0], Options{})
	defer c.Stop()

	body, err := st.body()
	if err != nil {
		log.Fatal(st, "Unable to read message body", "err", err)
		return
	}
	to := utils.If(st.to != "", st.to, c.config.Identity)

	ctx, cancel := st.makeContext()
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		log.Fatal(st, "Unable to connect", "err", err)
		return
	}

	res, err := c.Send(ctx, to, body, st.ttl)
	if err != nil {
		log.Error(st, "Failed to send message", "to", to, "err", err)
		return
	}

	p := toolutils.StatusPrinter{File: os.Stdout, Padding: 12}
	p.Print("recipient", to)
	p.Print("size", len(body))
	p.Print("difficulty", c.state.PowDifficulty())
	p.Print("response", string(res))
}

type messagesTool struct {
	runTool
	raw bool
}

func CmdMessages() *cobra.Command {
	mt := messagesTool{runTool: runTool{name: "swarmd-messages"}}

	cmd := &cobra.Command{
		GroupID: "tools",
		Use:     "messages CONFIG-FILE [IDENTITY]",
		Short:   "Fetch new messages once",
		Long: `Fetch new messages from the swarm of an identity once.
Each new message is written to stdout as one JSON line.`,
		Args:    cobra.RangeArgs(1, 2),
		Example: `  swarmd messages swarmd.yml`,
		Run:     mt.run,
	}

	cmd.Flags().DurationVar(&mt.timeout, "timeout", time.Minute, "overall timeout")
	cmd.Flags().BoolVar(&mt.raw, "raw", false, "write message bodies without framing")
	return cmd
}

func (mt *messagesTool) run(_ *cobra.Command, args []string) {
	c := loadClient(mt, args[0], Options{})
	defer c.Stop()

	identity := c.config.Identity
	if len(args) > 1 {
		identity = args[1]
	}

	ctx, cancel := mt.makeContext()
	defer cancel()
	if err := c.Connect(ctx); err != nil {
		log.Fatal(mt, "Unable to connect", "err", err)
		return
	}

	envs, err := c.state.GetMessages(ctx, identity)
	if err != nil {
		log.Error(mt, "Failed to fetch messages", "identity", identity, "err", err)
		return
	}

	enc := json.NewEncoder(os.Stdout)
	for _, env := range envs {
		if mt.raw {
			os.Stdout.Write(env.Data)
			continue
		}
		enc.Encode(env)
	}
	log.Info(mt, "Fetched messages", "identity", identity, "count", len(envs))
}

func CmdSwarm() *cobra.Command {
	tool := &runTool{name: "swarmd-swarm", timeout: time.Minute}
	return &cobra.Command{
		GroupID: "tools",
		Use:     "swarm CONFIG-FILE IDENTITY",
		Short:   "Resolve the swarm of an identity",
		Args:    cobra.ExactArgs(2),
		Example: `  swarmd swarm swarmd.yml 05ab...`,
		Run: func(_ *cobra.Command, args []string) {
			c := loadClient(tool, args[0], Options{})
			defer c.Stop()

			ctx, cancel := tool.makeContext()
			defer cancel()
			if err := c.Connect(ctx); err != nil {
				log.Fatal(tool, "Unable to connect", "err", err)
				return
			}

			swarm, err := c.state.Swarm(ctx, args[1])
			if err != nil {
				log.Error(tool, "Failed to resolve swarm", "identity", args[1], "err", err)
				return
			}
			printSnodes(os.Stdout, swarm)
		},
	}
}

func CmdPool() *cobra.Command {
	tool := &runTool{name: "swarmd-pool", timeout: time.Minute}
	return &cobra.Command{
		GroupID: "tools",
		Use:     "pool CONFIG-FILE",
		Short:   "Show the snode pool, populating it if needed",
		Args:    cobra.ExactArgs(1),
		Example: `  swarmd pool swarmd.yml`,
		Run: func(_ *cobra.Command, args []string) {
			c := loadClient(tool, args[0], Options{})
			defer c.Stop()

			ctx, cancel := tool.makeContext()
			defer cancel()

			pool, err := c.state.EnsurePool(ctx)
			if err != nil {
				log.Error(tool, "Failed to populate snode pool", "err", err)
				return
			}
			printSnodes(os.Stdout, pool)
		},
	}
}

func printSnodes(w io.Writer, list []snode.Snode) {
	p := toolutils.StatusPrinter{File: w, Padding: 8}
	p.Print("count", len(list))
	for _, sn := range list {
		p.Print("snode", fmt.Sprintf("%s ed25519=%s x25519=%s", sn, sn.Keys.Ed25519, sn.Keys.X25519))
	}
}
