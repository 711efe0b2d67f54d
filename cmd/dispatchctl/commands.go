package main

import (
	"context"
	"fmt"
	"io"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/google/uuid"
	"github.com/spf13/cobra"

	"github.com/angelmondragon/packfinderz-dispatch/internal/cron"
	"github.com/angelmondragon/packfinderz-dispatch/internal/dispatch"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/auth"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/config"
	"github.com/angelmondragon/packfinderz-dispatch/pkg/enums"
)

var sweepJobs = map[string]string{
	dispatch.SweepRetry:   cron.RetrySweepJob,
	dispatch.SweepTimeout: cron.TimeoutSweepJob,
}

func init() {
	rootCmd.AddCommand(
		newSweepCmd(),
		newAssignCmd(),
		newRespondCmd(),
		newForceReassignCmd(),
		newEarningsCmd(),
		newRouteCmd(),
		newTokenCmd(),
	)
}

// withRuntime opens connections, runs fn and prints its result as JSON.
func withRuntime(cmd *cobra.Command, fn func(ctx context.Context, rt *runtime) (any, error)) error {
	ctx, stop := signal.NotifyContext(cmd.Context(), os.Interrupt, syscall.SIGTERM)
	defer stop()

	rt, err := openRuntime(ctx)
	if err != nil {
		return err
	}
	defer rt.close()

	out, err := fn(ctx, rt)
	if err != nil {
		return err
	}
	return printJSON(cmd.OutOrStdout(), out)
}

func parseOrderID(raw string) (uuid.UUID, error) {
	id, err := uuid.Parse(raw)
	if err != nil {
		return uuid.Nil, fmt.Errorf("order id %q is not a uuid", raw)
	}
	return id, nil
}

func newSweepCmd() *cobra.Command {
	return &cobra.Command{
		Use:       "sweep retry|timeout",
		Short:     "Run one sweep pass and print its report",
		Args:      cobra.ExactArgs(1),
		ValidArgs: []string{dispatch.SweepRetry, dispatch.SweepTimeout},
		RunE: func(cmd *cobra.Command, args []string) error {
			job, ok := sweepJobs[args[0]]
			if !ok {
				return fmt.Errorf("unknown sweep %q", args[0])
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Cron.RunSweep(ctx, job)
			})
		},
	}
}

func newAssignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "assign ORDER_ID",
		Short: "Offer a ready order to the best eligible agent",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Dispatch.AssignNextAgent(ctx, orderID)
			})
		},
	}
}

func newRespondCmd() *cobra.Command {
	var agent, response string
	cmd := &cobra.Command{
		Use:   "respond ORDER_ID",
		Short: "Record an agent's accept or reject for an open offer",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			agentID, err := uuid.Parse(agent)
			if err != nil {
				return fmt.Errorf("agent id %q is not a uuid", agent)
			}
			resp, err := enums.ParseAgentResponse(response)
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Dispatch.RecordAgentResponse(ctx, orderID, agentID, resp)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id")
	cmd.Flags().StringVar(&response, "response", "", "accepted or rejected")
	_ = cmd.MarkFlagRequired("agent")
	_ = cmd.MarkFlagRequired("response")
	return cmd
}

func newForceReassignCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "force-reassign ORDER_ID",
		Short: "Release the current agent and offer the order to someone else",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Dispatch.ForceReassign(ctx, orderID)
			})
		},
	}
}

func newEarningsCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "earnings ORDER_ID",
		Short: "Print the agent and seller earnings recorded for an order",
		Args:  cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			orderID, err := parseOrderID(args[0])
			if err != nil {
				return err
			}
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Earnings.ComputeEarnings(ctx, orderID)
			})
		},
	}
}

func newRouteCmd() *cobra.Command {
	var agent string
	cmd := &cobra.Command{
		Use:   "route ORDER_ID...",
		Short: "Plan the pickup and drop-off order for an agent",
		Args:  cobra.MinimumNArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			return withRuntime(cmd, func(ctx context.Context, rt *runtime) (any, error) {
				return rt.services.Routing.OptimizeRoute(ctx, agent, args)
			})
		},
	}
	cmd.Flags().StringVar(&agent, "agent", "", "agent id")
	_ = cmd.MarkFlagRequired("agent")
	return cmd
}

type tokenOptions struct {
	role   string
	userID string
	agent  string
}

func newTokenCmd() *cobra.Command {
	var opts tokenOptions
	cmd := &cobra.Command{
		Use:   "token",
		Short: "Mint an access token for local testing",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			cfg, _, err := loadConfig()
			if err != nil {
				return err
			}
			return mintToken(cmd.OutOrStdout(), cfg.JWT, time.Now(), opts)
		},
	}
	cmd.Flags().StringVar(&opts.role, "role", string(enums.ActorRoleAdmin), "client, seller, agent, admin or system")
	cmd.Flags().StringVar(&opts.userID, "user", "", "user id, random when empty")
	cmd.Flags().StringVar(&opts.agent, "agent", "", "agent id for agent tokens")
	return cmd
}

func mintToken(w io.Writer, cfg config.JWTConfig, now time.Time, opts tokenOptions) error {
	role, err := enums.ParseActorRole(opts.role)
	if err != nil {
		return err
	}
	userID := uuid.New()
	if opts.userID != "" {
		if userID, err = uuid.Parse(opts.userID); err != nil {
			return fmt.Errorf("user id %q is not a uuid", opts.userID)
		}
	}
	payload := auth.AccessTokenPayload{UserID: userID, Role: role}
	if opts.agent != "" {
		agentID, err := uuid.Parse(opts.agent)
		if err != nil {
			return fmt.Errorf("agent id %q is not a uuid", opts.agent)
		}
		payload.AgentID = &agentID
	}
	token, err := auth.MintAccessToken(cfg, now, payload)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, token)
	return err
}
