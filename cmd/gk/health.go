package main

import (
	"context"
	"fmt"
	"io"
	"time"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	healthpb "google.golang.org/grpc/health/grpc_health_v1"

	"github.com/alfredjeanlab/gatekeep/internal/server"
	"github.com/alfredjeanlab/gatekeep/internal/ui"
)

type healthCheck struct {
	Name   string `json:"name"`
	Status string `json:"status"`
	Error  string `json:"error,omitempty"`
}

func (c healthCheck) ok() bool {
	return c.Error == "" && (c.Status == "ok" || c.Status == healthpb.HealthCheckResponse_SERVING.String())
}

var healthCmd = &cobra.Command{
	Use:     "health",
	Short:   "Check the HTTP API and, with --grpc-addr, the gRPC health service",
	GroupID: "system",
	RunE: func(cmd *cobra.Command, args []string) error {
		timeout, _ := cmd.Flags().GetDuration("timeout")
		grpcAddr, _ := cmd.Flags().GetString("grpc-addr")
		ctx, cancel := context.WithTimeout(cmd.Context(), timeout)
		defer cancel()

		checks := []healthCheck{{Name: "http"}}
		if status, err := gatesClient.Health(ctx); err != nil {
			checks[0].Error = err.Error()
		} else {
			checks[0].Status = status
		}
		if grpcAddr != "" {
			checks = append(checks, checkGRPC(ctx, grpcAddr))
		}

		if jsonOutput {
			if err := printJSON(cmd.OutOrStdout(), checks); err != nil {
				return err
			}
		} else {
			printHealth(cmd.OutOrStdout(), checks)
		}

		for _, c := range checks {
			if !c.ok() {
				return fmt.Errorf("unhealthy: %s", c.Name)
			}
		}
		return nil
	},
}

func init() {
	healthCmd.Flags().String("grpc-addr", "", "gRPC address to check, e.g. localhost:9090")
	healthCmd.Flags().Duration("timeout", 5*time.Second, "timeout for all checks")
}

// checkGRPC asks the standard health service for the engine's status.
func checkGRPC(ctx context.Context, addr string) healthCheck {
	check := healthCheck{Name: "grpc"}
	conn, err := grpc.NewClient(addr, grpc.WithTransportCredentials(insecure.NewCredentials()))
	if err != nil {
		check.Error = err.Error()
		return check
	}
	defer conn.Close()

	resp, err := healthpb.NewHealthClient(conn).Check(ctx, &healthpb.HealthCheckRequest{Service: server.ServiceName})
	if err != nil {
		check.Error = err.Error()
		return check
	}
	check.Status = resp.GetStatus().String()
	return check
}

func printHealth(w io.Writer, checks []healthCheck) {
	for _, c := range checks {
		status := c.Status
		if c.Error != "" {
			status = c.Error
		}
		fmt.Fprintf(w, "%-5s %s  %s\n", c.Name, ui.RenderDecision(c.ok()), status)
	}
}
