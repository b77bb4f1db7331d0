package main

import (
	"context"
	"encoding/json"
	"fmt"
	"os"

	"github.com/pkg/errors"
	"github.com/spf13/cobra"

	"github.com/sonirico/eqws"
)

func pingCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "ping",
		Short: "Call system.ping and print the response",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runCall(cmd, opts, "system.ping", nil)
		},
	}
}

func callCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "call <method> [json-args]",
		Short: "Issue an rpc call and print its response",
		Args:  cobra.RangeArgs(1, 2),
		RunE: func(cmd *cobra.Command, args []string) error {
			var params any
			if len(args) == 2 {
				if err := json.Unmarshal([]byte(args[1]), &params); err != nil {
					return errors.Wrap(err, "invalid json args")
				}
			}
			return runCall(cmd, opts, args[0], params)
		},
	}
}

func runCall(cmd *cobra.Command, opts *rootOptions, method string, params any) error {
	sess, err := opts.session(cmd)
	if err != nil {
		return err
	}

	return sess.run(cmd.Context(), func(ctx context.Context) error {
		reply, err := sess.socket.Call(ctx, method, params)
		if err != nil {
			return err
		}
		return printJSON(reply)
	})
}

func emitCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "emit <event> [json-args...]",
		Short: "Emit an event once connected",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			if eqws.IsReservedEvent(args[0]) {
				return errors.Errorf("%q is a local event and is never sent", args[0])
			}

			params := make([]any, 0, len(args)-1)
			for _, raw := range args[1:] {
				var v any
				if err := json.Unmarshal([]byte(raw), &v); err != nil {
					return errors.Wrapf(err, "invalid json arg %q", raw)
				}
				params = append(params, v)
			}

			sess, err := opts.session(cmd)
			if err != nil {
				return err
			}

			connected := make(chan struct{})
			sess.socket.Once(eqws.EventConnected, func(...any) { close(connected) })

			return sess.run(cmd.Context(), func(ctx context.Context) error {
				select {
				case <-connected:
				case <-ctx.Done():
					return ctx.Err()
				}

				// The socket is closed after the queued write, so returning flushes the event.
				return sess.socket.Emit(args[0], params...)
			})
		},
	}
}

func listenCmd(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "listen",
		Short: "Print every packet and connection event until interrupted",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			sess, err := opts.session(cmd)
			if err != nil {
				return err
			}

			sess.socket.On(eqws.EventConnected, func(...any) {
				fmt.Fprintln(os.Stderr, "connected")
			})
			sess.socket.On(eqws.EventDisconnect, func(args ...any) {
				fmt.Fprintln(os.Stderr, "disconnected:", args)
			})
			sess.socket.On(eqws.EventError, func(args ...any) {
				fmt.Fprintln(os.Stderr, "error:", args)
			})
			sess.socket.On(eqws.EventPacket, func(args ...any) {
				p := args[0].(eqws.Packet)
				_ = printJSON(map[string]any{"type": p.Type.String(), "data": p.Data})
			})

			return sess.run(cmd.Context(), func(ctx context.Context) error {
				<-ctx.Done()
				return nil
			})
		},
	}
}

func printJSON(v any) error {
	enc := json.NewEncoder(os.Stdout)
	enc.SetIndent("", "  ")
	return enc.Encode(v)
}
