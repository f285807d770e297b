package main

import (
	"fmt"
	"time"

	"github.com/sanity-io/litter"
	"github.com/spf13/cobra"

	"github.com/inkboard/board-app/internal/export"
	"github.com/inkboard/board-app/internal/protocol"
)

// printMessage writes one server message as a log line.
func printMessage(msgType string, msg interface{}) {
	ts := time.Now().Format("15:04:05.000")
	switch m := msg.(type) {
	case protocol.HistoryMsg:
		fmt.Printf("%s history session=%s events=%d\n", ts, m.SessionID, len(m.Events))
	case protocol.EventMsg:
		fmt.Printf("%s draw %s\n", ts, describe(m.Event))
	case protocol.ClearMsg:
		fmt.Printf("%s clear\n", ts)
	case protocol.AckMsg:
		fmt.Printf("%s ack seq=%d\n", ts, m.Seq)
	case protocol.RejectMsg:
		fmt.Printf("%s reject op=%s code=%s %s\n", ts, m.Op, m.Code, m.Message)
	case protocol.ErrorMsg:
		fmt.Printf("%s error code=%s %s\n", ts, m.Code, m.Message)
	default:
		fmt.Printf("%s %s\n", ts, msgType)
	}
}

func watchCmd() *cobra.Command {
	return &cobra.Command{
		Use:   "watch",
		Short: "Join the board and print every message",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), printMessage)
			if err != nil {
				return err
			}
			defer s.Close()

			info("watching %s as session %s (ctrl-c to stop)", boardURL, s.c.SessionID())
			select {
			case <-cmd.Context().Done():
				return nil
			case <-s.c.Done():
				return fmt.Errorf("connection lost: %w", s.c.Err())
			}
		},
	}
}

func dumpCmd() *cobra.Command {
	var (
		pdfPath string
		compact bool
	)

	cmd := &cobra.Command{
		Use:   "dump",
		Short: "Print the board history or export it to PDF",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			s, err := openSession(cmd.Context(), nil)
			if err != nil {
				return err
			}
			events := s.st.Confirmed()
			s.Close()

			if pdfPath != "" {
				if err := export.WriteFile(pdfPath, events); err != nil {
					return err
				}
				success("wrote %d events to %s", len(events), pdfPath)
				return nil
			}

			if compact {
				for _, ev := range events {
					fmt.Println(describe(ev))
				}
				return nil
			}
			fmt.Println(litter.Options{StripPackageNames: true}.Sdump(events))
			return nil
		},
	}

	cmd.Flags().StringVar(&pdfPath, "pdf", "", "write a PDF to this path instead of printing")
	cmd.Flags().BoolVar(&compact, "compact", false, "one line per event")
	return cmd
}
