package main

import (
	"context"
	"encoding/json"
	"errors"
	"fmt"
	"io"
	"strings"
	"text/tabwriter"

	"github.com/danmuck/znplink/internal/config"
	"github.com/danmuck/znplink/internal/link"
	"github.com/danmuck/znplink/internal/protocol"
	"github.com/danmuck/znplink/internal/server"
	"github.com/danmuck/znplink/internal/transport"
	"github.com/spf13/cobra"
)

func newPingCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Send SYS.Ping and print the capability bitmap",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			msg, err := l.IssueNamed(cmd.Context(), "SYS.Ping", nil, a.timeout)
			if err != nil {
				return err
			}
			caps, err := msg.Fields.Uint("Capabilities")
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "capabilities=0x%04X\n", caps)
			return nil
		},
	}
}

func newVersionCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "version",
		Short: "Query SYS.Version from the coprocessor",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			l, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			msg, err := l.IssueNamed(cmd.Context(), "SYS.Version", nil, a.timeout)
			if err != nil {
				return err
			}
			return printFields(cmd.OutOrStdout(), msg.Fields)
		},
	}
}

func newIssueCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "issue NAME [key=value...]",
		Short: "Send any request from the command table and wait for its reply",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			raw, err := parseAssignments(args[1:])
			if err != nil {
				return err
			}
			l, _, err := a.connect(cmd.Context())
			if err != nil {
				return err
			}
			defer l.Close()
			d, err := l.Registry().ByName(args[0])
			if err != nil {
				return err
			}
			fields, err := protocol.ParseFields(d.Request, raw)
			if err != nil {
				return err
			}
			rsp, err := l.Request(cmd.Context(), link.Request{Command: d.Name, Fields: fields, Timeout: a.timeout})
			if err != nil {
				return err
			}
			out := cmd.OutOrStdout()
			if asJSON {
				view := map[string]any{"command": d.Name, "attempts": rsp.Attempts}
				if rsp.Confirm.Known {
					view["confirm"] = server.NewMessageView(rsp.Confirm)
				}
				if rsp.Result.Known {
					view["result"] = server.NewMessageView(rsp.Result)
				}
				return writeJSON(out, view)
			}
			if rsp.Confirm.Known {
				fmt.Fprintf(out, "confirm %s\n", rsp.Confirm)
			}
			if rsp.Result.Known {
				fmt.Fprintf(out, "result  %s\n", rsp.Result)
			}
			return nil
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the reply as JSON")
	return cmd
}

func newListenCmd(a *app) *cobra.Command {
	var count int
	cmd := &cobra.Command{
		Use:   "listen",
		Short: "Print frames not claimed by a command until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, _, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer l.Close()
			sub := l.Subscribe(protocol.MatchAny())
			defer sub.Close()
			seen := 0
			for {
				select {
				case msg, ok := <-sub.C():
					if !ok {
						if ctx.Err() != nil {
							return nil
						}
						return l.Err()
					}
					fmt.Fprintln(cmd.OutOrStdout(), msg)
					seen++
					if count > 0 && seen >= count {
						return nil
					}
				case <-ctx.Done():
					return nil
				}
			}
		},
	}
	cmd.Flags().IntVar(&count, "count", 0, "exit after this many frames (0 runs until interrupted)")
	return cmd
}

func newSchemaCmd(a *app) *cobra.Command {
	var asJSON bool
	cmd := &cobra.Command{
		Use:   "schema",
		Short: "List the selected command table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			reg, err := selectRegistry(a)
			if err != nil {
				return err
			}
			commands := server.DescribeCommands(reg)
			out := cmd.OutOrStdout()
			if asJSON {
				return writeJSON(out, commands)
			}
			fmt.Fprintf(out, "version=%s checksum=%s\n", reg.Version(), reg.Checksum())
			tw := tabwriter.NewWriter(out, 0, 4, 2, ' ', 0)
			fmt.Fprintln(tw, "NAME\tHEADER\tREPLY\tREQUEST\tCALLBACK")
			for _, c := range commands {
				fmt.Fprintf(tw, "%s\t%s\t%s\t%s\t%s\n", c.Name, c.Header, c.Reply, paramList(c.Request), c.Callback)
			}
			return tw.Flush()
		},
	}
	cmd.Flags().BoolVar(&asJSON, "json", false, "print the table as JSON")
	return cmd
}

func newServeCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "serve",
		Short: "Run the link with the diagnostics HTTP server until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ctx := cmd.Context()
			l, linkDone, err := a.connect(ctx)
			if err != nil {
				return err
			}
			defer l.Close()

			srv := server.New(l, server.Config{
				Addr:        a.cfg.Diagnostics.Addr,
				CorsOrigins: a.cfg.Diagnostics.CorsOrigins,
			})
			srvCtx, cancel := context.WithCancel(ctx)
			defer cancel()
			srvDone := make(chan error, 1)
			go func() { srvDone <- srv.Serve(srvCtx) }()

			select {
			case err := <-linkDone:
				cancel()
				<-srvDone
				if ctx.Err() != nil {
					return nil
				}
				return err
			case err := <-srvDone:
				return err
			}
		},
	}
}

func newPortsCmd(a *app) *cobra.Command {
	return &cobra.Command{
		Use:   "ports",
		Short: "List serial ports visible to this host",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			ports, err := transport.ListPorts()
			if err != nil {
				return err
			}
			for _, p := range ports {
				fmt.Fprintln(cmd.OutOrStdout(), p)
			}
			return nil
		},
	}
}

func newConfigCmd(a *app) *cobra.Command {
	cmd := &cobra.Command{
		Use:   "config",
		Short: "Write or check configuration files",
	}
	var (
		kind   string
		output string
		force  bool
	)
	initCmd := &cobra.Command{
		Use:   "init",
		Short: "Write a starter config.toml or command table",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			target := output
			if target == "" {
				target = "config.toml"
				if kind == "schema" {
					target = "commands.toml"
				}
			}
			if err := config.WriteTemplate(target, kind, force); err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "wrote %s template to %s\n", kind, target)
			return nil
		},
	}
	initCmd.Flags().StringVar(&kind, "kind", "link", "template kind: link|schema")
	initCmd.Flags().StringVar(&output, "output", "", "output path")
	initCmd.Flags().BoolVar(&force, "force", false, "overwrite an existing file")

	validateCmd := &cobra.Command{
		Use:   "validate",
		Short: "Load --config and the command table it selects",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			if a.cfgFile == "" {
				return errors.New("config validate: --config is required")
			}
			reg, err := selectRegistry(a)
			if err != nil {
				return err
			}
			fmt.Fprintf(cmd.OutOrStdout(), "config %s ok: port=%s schema=%s commands=%d\n",
				a.cfgFile, a.cfg.Serial.Port, reg.Version(), len(reg.Commands()))
			return nil
		},
	}
	cmd.AddCommand(initCmd, validateCmd)
	return cmd
}

// parseAssignments splits key=value arguments.
func parseAssignments(args []string) (map[string]string, error) {
	out := make(map[string]string, len(args))
	for _, arg := range args {
		key, value, ok := strings.Cut(arg, "=")
		key = strings.TrimSpace(key)
		if !ok || key == "" {
			return nil, fmt.Errorf("argument %q is not key=value", arg)
		}
		if _, dup := out[key]; dup {
			return nil, fmt.Errorf("field %q given twice", key)
		}
		out[key] = value
	}
	return out, nil
}

func printFields(w io.Writer, fields protocol.Fields) error {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	for _, f := range fields {
		fmt.Fprintf(tw, "%s\t%s\n", f.Name, f.Value)
	}
	return tw.Flush()
}

func paramList(params []server.ParamView) string {
	if len(params) == 0 {
		return "-"
	}
	parts := make([]string, 0, len(params))
	for _, p := range params {
		parts = append(parts, p.Name+":"+p.Type)
	}
	return strings.Join(parts, ",")
}

func writeJSON(w io.Writer, v any) error {
	enc := json.NewEncoder(w)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
