package main

import (
	"context"
	"errors"
	"fmt"
	"io"
	"os"
	"os/signal"

	"github.com/spf13/cobra"
	"google.golang.org/grpc"
	"google.golang.org/grpc/credentials/insecure"
	"google.golang.org/protobuf/encoding/protojson"
	"google.golang.org/protobuf/types/known/structpb"

	"github.com/lucasew/easysave/internal/server"
)

var (
	remoteAddr  string
	remoteToken string
)

func dialRemote() (*grpc.ClientConn, *server.SaveDeviceClient, error) {
	opts := []grpc.DialOption{grpc.WithTransportCredentials(insecure.NewCredentials())}
	if remoteToken != "" {
		opts = append(opts, grpc.WithPerRPCCredentials(server.BearerToken(remoteToken)))
	}
	conn, err := grpc.NewClient(remoteAddr, opts...)
	if err != nil {
		return nil, nil, fmt.Errorf("failed to connect to %s: %w", remoteAddr, err)
	}
	return conn, server.NewSaveDeviceClient(conn), nil
}

func printStruct(w io.Writer, s *structpb.Struct) error {
	b, err := protojson.Marshal(s)
	if err != nil {
		return err
	}
	_, err = fmt.Fprintln(w, string(b))
	return err
}

var statusCmd = &cobra.Command{
	Use:   "status",
	Short: "Shows the state of a running server's device over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, client, err := dialRemote()
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()

		ctx, cancel := withTimeout(opTimeout)
		defer cancel()
		st, err := client.GetStatus(ctx)
		if err != nil {
			return err
		}
		return printStruct(cmd.OutOrStdout(), st)
	},
}

var watchCmd = &cobra.Command{
	Use:   "watch",
	Short: "Streams operation completions from a running server over gRPC",
	RunE: func(cmd *cobra.Command, args []string) error {
		conn, client, err := dialRemote()
		if err != nil {
			return err
		}
		defer func() { _ = conn.Close() }()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt)
		defer stop()
		err = client.WatchCompletions(ctx, func(c *structpb.Struct) error {
			return printStruct(cmd.OutOrStdout(), c)
		})
		if errors.Is(err, io.EOF) || ctx.Err() != nil {
			return nil
		}
		return err
	},
}

func init() {
	for _, c := range []*cobra.Command{statusCmd, watchCmd} {
		c.Flags().StringVar(&remoteAddr, "addr", "localhost:8080", "server address")
		c.Flags().StringVar(&remoteToken, "token", os.Getenv("EASYSAVE_TOKEN"), "bearer token")
		rootCmd.AddCommand(c)
	}
	statusCmd.Flags().DurationVar(&opTimeout, "timeout", defaultTimeout, "request timeout")
}
