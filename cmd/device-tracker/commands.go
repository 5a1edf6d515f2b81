// ABOUTME: Inspection commands: devices, manifest and history
// ABOUTME: Read-only views of the network server, the node manifest and the journal

package main

import (
	"context"
	"fmt"
	"io"
	"strings"
	"time"

	"github.com/fatih/color"
	"github.com/spf13/cobra"
	"github.com/yuin/goldmark"
	"github.com/yuin/goldmark/ast"
	"github.com/yuin/goldmark/text"

	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/chirpstack"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/config"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/journal"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/manifest"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/tracker"
	"github.com/waggle-sensor/wes-chirpstack-device-tracker/internal/uplink"
)

func newDevicesCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "devices",
		Short: "List every device known to the network server",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			return runDevices(cmd.Context(), opts, cmd.OutOrStdout())
		},
	}
}

func runDevices(ctx context.Context, opts *rootOptions, w io.Writer) error {
	cfg := opts.cfg
	if err := cfg.Require(config.SectionChirpStack); err != nil {
		return err
	}

	conn, err := chirpstack.Dial(cfg.ChirpStack.APIInterface)
	if err != nil {
		return err
	}
	defer conn.Close()

	ns := chirpstack.New(conn, chirpstack.Config{
		Email:      cfg.ChirpStack.Email,
		Password:   cfg.ChirpStack.Password,
		RetryDelay: cfg.ChirpStack.RetryDelay,
	}, opts.logger)

	sess, err := ns.Authenticate(ctx)
	if err != nil {
		return err
	}
	devices, err := ns.ListAllDevices(ctx, &sess)
	if err != nil {
		return fmt.Errorf("listing devices: %w", err)
	}

	printDevices(w, devices)
	return nil
}

func printDevices(w io.Writer, devices []chirpstack.DeviceSummary) {
	if len(devices) == 0 {
		fmt.Fprintln(w, "No devices")
		return
	}

	bold := color.New(color.Bold)
	bold.Fprintf(w, "%-16s  %-30s  %-30s  %s\n", "DEVEUI", "NAME", "PROFILE", "LAST SEEN")
	for _, d := range devices {
		lastSeen := tracker.FormatTimestamp(d.LastSeenAt)
		if lastSeen == "" {
			lastSeen = color.HiBlackString("never")
		}
		fmt.Fprintf(w, "%-16s  %-30s  %-30s  %s\n", d.DevEUI, d.Name, d.ProfileName, lastSeen)
	}
	color.New(color.FgHiBlack).Fprintf(w, "\n%d devices\n", len(devices))
}

func newManifestCommand(opts *rootOptions) *cobra.Command {
	return &cobra.Command{
		Use:   "manifest",
		Short: "Print the LoRaWAN connections cached in the node manifest",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.cfg.Require(config.SectionNode); err != nil {
				return err
			}
			store := manifest.NewStore(opts.cfg.Node.Manifest, opts.logger)
			doc, err := store.Load()
			if err != nil {
				return err
			}
			printManifest(cmd.OutOrStdout(), doc)
			return nil
		},
	}
}

func printManifest(w io.Writer, doc manifest.Document) {
	records := doc.Connections()
	if len(records) == 0 {
		fmt.Fprintln(w, "No LoRaWAN connections")
		return
	}

	cyan := color.New(color.FgCyan)
	gray := color.New(color.FgHiBlack)
	for _, rec := range records {
		c, err := manifest.Decode(rec)
		if err != nil {
			gray.Fprintf(w, "  (unreadable entry: %v)\n", err)
			continue
		}
		cyan.Fprintf(w, "%s\n", c.ConnectionName)
		fmt.Fprintf(w, "    deveui:     %s\n", c.Device.DevEUI)
		fmt.Fprintf(w, "    type:       %s\n", c.ConnectionType)
		fmt.Fprintf(w, "    last seen:  %s\n", c.LastSeenAt)
		fmt.Fprintf(w, "    margin:     %g dB\n", c.Margin)
		fmt.Fprintf(w, "    interval:   %ds\n", c.ExpectedUplinkInterval)
		if hw := c.Device.Hardware; hw != nil {
			fmt.Fprintf(w, "    hardware:   %s", hw.HwModel)
			if title := descriptionTitle(hw.Description); title != "" && title != hw.HwModel {
				gray.Fprintf(w, " (%s)", title)
			}
			fmt.Fprintln(w)
		}
	}
}

// maxTitle bounds the fallback title taken from an unstructured description.
const maxTitle = 60

// descriptionTitle returns a one-line title for a hardware description. The
// registry stores descriptions as Markdown, so the first heading wins;
// otherwise the first non-empty line is used.
func descriptionTitle(desc string) string {
	src := []byte(desc)
	doc := goldmark.DefaultParser().Parse(text.NewReader(src))

	var title string
	_ = ast.Walk(doc, func(n ast.Node, entering bool) (ast.WalkStatus, error) {
		if !entering {
			return ast.WalkContinue, nil
		}
		heading, ok := n.(*ast.Heading)
		if !ok {
			return ast.WalkContinue, nil
		}
		title = strings.TrimSpace(inlineText(heading, src))
		return ast.WalkStop, nil
	})
	if title != "" {
		return title
	}

	for _, line := range strings.Split(desc, "\n") {
		line = strings.TrimSpace(line)
		if line == "" {
			continue
		}
		if r := []rune(line); len(r) > maxTitle {
			line = string(r[:maxTitle]) + "…"
		}
		return line
	}
	return ""
}

// inlineText concatenates the text segments below n.
func inlineText(n ast.Node, src []byte) string {
	var b strings.Builder
	_ = ast.Walk(n, func(c ast.Node, entering bool) (ast.WalkStatus, error) {
		if t, ok := c.(*ast.Text); ok && entering {
			b.Write(t.Segment.Value(src))
			if t.SoftLineBreak() {
				b.WriteByte(' ')
			}
		}
		return ast.WalkContinue, nil
	})
	return b.String()
}

type historyOptions struct {
	devEUI string
	limit  int
	tz     string
}

func newHistoryCommand(opts *rootOptions) *cobra.Command {
	hopts := &historyOptions{}

	cmd := &cobra.Command{
		Use:   "history",
		Short: "Print recent reconciliations from the journal",
		Args:  cobra.NoArgs,
		RunE: func(cmd *cobra.Command, _ []string) error {
			if err := opts.cfg.Require(config.SectionJournal); err != nil {
				return err
			}
			filter, err := hopts.filter()
			if err != nil {
				return err
			}

			j, err := journal.Open(opts.cfg.Journal.Path, opts.logger)
			if err != nil {
				return fmt.Errorf("opening journal: %w", err)
			}
			defer j.Close()

			entries, err := j.List(cmd.Context(), filter)
			if err != nil {
				return err
			}
			return printHistory(cmd.OutOrStdout(), entries, hopts.tz)
		},
	}

	cmd.Flags().StringVar(&hopts.devEUI, "deveui", "", "only show entries for this DevEUI")
	cmd.Flags().IntVarP(&hopts.limit, "limit", "n", 50, "maximum number of entries")
	cmd.Flags().StringVar(&hopts.tz, "tz", "UTC", `display time zone (IANA name or "Local")`)

	return cmd
}

func (o *historyOptions) filter() (journal.Filter, error) {
	f := journal.Filter{Limit: o.limit}
	if o.devEUI != "" {
		eui := strings.ToLower(o.devEUI)
		if err := uplink.ValidateDevEUI(eui); err != nil {
			return f, err
		}
		f.DevEUI = &eui
	}
	return f, nil
}

func printHistory(w io.Writer, entries []journal.Entry, zone string) error {
	if len(entries) == 0 {
		fmt.Fprintln(w, "No journal entries")
		return nil
	}

	green := color.New(color.FgGreen)
	red := color.New(color.FgRed)
	gray := color.New(color.FgHiBlack)

	for _, e := range entries {
		ts, err := tracker.UTCToZone(e.Timestamp, zone)
		if err != nil {
			return err
		}
		gray.Fprintf(w, "%s  ", ts.Format(time.DateTime+" MST"))
		fmt.Fprintf(w, "%-16s  ", e.DevEUI)

		if e.State == tracker.Persisted.String() {
			green.Fprintf(w, "%-10s", e.State)
		} else {
			red.Fprintf(w, "%-10s", e.State)
		}

		branch := e.Branch
		if branch == "" {
			branch = "-"
		}
		fmt.Fprintf(w, "  %-7s  %s", branch, strings.Join(e.Actions, " "))
		if e.Error != "" {
			red.Fprintf(w, "  %s", e.Error)
		}
		fmt.Fprintln(w)
	}
	return nil
}
