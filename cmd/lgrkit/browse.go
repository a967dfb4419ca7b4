package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"log/slog"
	"strings"
	"time"

	"github.com/spf13/cobra"

	"github.com/c360/lgraccess/access"
	"github.com/c360/lgraccess/browser"
	"github.com/c360/lgraccess/config"
	"github.com/c360/lgraccess/symbol"
	"github.com/c360/lgraccess/uri"
)

type browseOptions struct {
	depth   int
	timeout time.Duration
	json    bool
}

func newBrowseCommand(flags *CLIConfig, stdout, stderr io.Writer) *cobra.Command {
	opts := &browseOptions{}
	cmd := &cobra.Command{
		Use:   "browse [SOURCE...]",
		Short: "Print the symbol tree of the configured sources",
		Long: `browse connects every configured source, expands its symbols down to
--depth levels and prints the resulting tree. Naming sources limits the
output to them. Sources that do not connect before --timeout are printed
as disconnected.`,
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := flags.logger(cfg, stderr)
			return runBrowse(cmd.Context(), flags, opts, cfg, args, stdout, logger)
		},
	}
	f := cmd.Flags()
	f.IntVar(&opts.depth, "depth", 3, "Levels to expand below each source")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "How long to wait for connection and expansion")
	f.BoolVar(&opts.json, "json", false, "Print the tree as JSON")
	return cmd
}

func runBrowse(ctx context.Context, flags *CLIConfig, opts *browseOptions, cfg *config.Config,
	only []string, stdout io.Writer, logger *slog.Logger,
) error {
	if opts.depth < 0 {
		return fmt.Errorf("invalid depth: %d", opts.depth)
	}
	for _, name := range only {
		if _, ok := cfg.Source(name); !ok {
			return fmt.Errorf("unknown source: %s", name)
		}
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.stop(flags.ShutdownTimeout) }()
	if err := a.start(ctx); err != nil {
		return err
	}

	w := newTreeWalker(opts.depth, only)
	access.Track(w)
	defer access.Release(w)

	var b *browser.Browser
	var setupErr error
	if err := a.call(ctx, func() {
		if b, setupErr = browser.New(a.manager, logger); setupErr != nil {
			return
		}
		if setupErr = b.AddClient(w); setupErr != nil {
			return
		}
		w.begin(b)
	}); err != nil {
		return err
	}
	if setupErr != nil {
		return setupErr
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	select {
	case <-w.done:
	case <-waitCtx.Done():
		logger.Warn("Browse incomplete", "reason", context.Cause(waitCtx))
	}

	var trees []treeNode
	if err := a.call(context.Background(), func() {
		trees = w.snapshot(b)
		b.Close()
	}); err != nil {
		return err
	}

	if opts.json {
		enc := json.NewEncoder(stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(trees)
	}
	var sb strings.Builder
	for _, t := range trees {
		t.write(&sb, 0)
	}
	_, err = io.WriteString(stdout, sb.String())
	return err
}

// treeWalker expands the forest level by level and reports done when every
// selected root has connected and no expansion is outstanding. It runs on
// the loop.
type treeWalker struct {
	depth     int
	only      map[string]bool
	expanding map[*symbol.Node]bool
	done      chan struct{}
	finished  bool
}

var _ browser.Client = (*treeWalker)(nil)

func newTreeWalker(depth int, only []string) *treeWalker {
	w := &treeWalker{
		depth:     depth,
		expanding: make(map[*symbol.Node]bool),
		done:      make(chan struct{}),
	}
	if len(only) > 0 {
		w.only = make(map[string]bool, len(only))
		for _, name := range only {
			w.only[name] = true
		}
	}
	return w
}

func (w *treeWalker) selected(root *symbol.Node) bool {
	return w.only == nil || w.only[root.RawName()]
}

func (w *treeWalker) begin(b *browser.Browser) {
	for _, root := range b.Roots() {
		if w.selected(root) && root.Connected() {
			w.expand(b, root)
		}
	}
	w.check(b)
}

func (w *treeWalker) level(n *symbol.Node) int {
	return len(n.Path()) - 1
}

func (w *treeWalker) expand(b *browser.Browser, n *symbol.Node) {
	if w.expanding[n] || w.level(n) >= w.depth {
		return
	}
	w.expanding[n] = true
	if err := b.StartExpansion(n); err != nil {
		delete(w.expanding, n)
	}
}

func (w *treeWalker) check(b *browser.Browser) {
	if w.finished || len(w.expanding) > 0 {
		return
	}
	for _, root := range b.Roots() {
		if w.selected(root) && (!root.Connected() || !root.IsExpanded() && w.depth > 0) {
			return
		}
	}
	w.finished = true
	close(w.done)
}

// OnSymbolAdded implements browser.Client
func (w *treeWalker) OnSymbolAdded(*browser.Browser, *symbol.Node) {}

// OnSymbolRemoved implements browser.Client
func (w *treeWalker) OnSymbolRemoved(b *browser.Browser, n *symbol.Node, _ symbol.RemovalReason) {
	if w.expanding[n] {
		delete(w.expanding, n)
		w.check(b)
	}
}

// OnSymbolConnectedChanged implements browser.Client
func (w *treeWalker) OnSymbolConnectedChanged(b *browser.Browser, n *symbol.Node) {
	if n.Parent() == nil && n.Connected() && w.selected(n) {
		w.expand(b, n)
		w.check(b)
	}
}

// OnSymbolEnabledChanged implements browser.Client
func (w *treeWalker) OnSymbolEnabledChanged(*browser.Browser, *symbol.Node) {}

// OnExpansionComplete implements browser.Client
func (w *treeWalker) OnExpansionComplete(b *browser.Browser, n *symbol.Node) {
	if !w.expanding[n] {
		return
	}
	delete(w.expanding, n)
	for _, c := range n.Children() {
		w.expand(b, c)
	}
	w.check(b)
}

// treeNode is the printable form of a symbol
type treeNode struct {
	Name      string     `json:"name"`
	Type      string     `json:"type"`
	URI       string     `json:"uri"`
	Connected bool       `json:"connected"`
	Units     string     `json:"units,omitempty"`
	Process   string     `json:"process,omitempty"`
	DataType  string     `json:"data_type,omitempty"`
	Children  []treeNode `json:"children,omitempty"`
}

func (w *treeWalker) snapshot(b *browser.Browser) []treeNode {
	var out []treeNode
	for _, root := range b.Roots() {
		if w.selected(root) {
			out = append(out, toTreeNode(root, w.depth))
		}
	}
	return out
}

func toTreeNode(n *symbol.Node, depth int) treeNode {
	info := n.Info()
	t := treeNode{
		Name:      n.RawName(),
		Type:      n.Type().String(),
		URI:       n.URI(),
		Connected: n.Connected(),
		Units:     info.Units,
		Process:   info.Process,
		DataType:  info.DataType,
	}
	if depth > 0 {
		for _, c := range n.Children() {
			t.Children = append(t.Children, toTreeNode(c, depth-1))
		}
	}
	return t
}

func (t treeNode) write(sb *strings.Builder, indent int) {
	sb.WriteString(strings.Repeat("  ", indent))
	fmt.Fprintf(sb, "%s [%s]", t.Name, t.Type)
	if indent == 0 && !t.Connected {
		sb.WriteString(" disconnected")
	}
	if t.Units != "" {
		fmt.Fprintf(sb, " units=%s", t.Units)
	}
	if t.Process != "" {
		fmt.Fprintf(sb, " process=%s", t.Process)
	}
	sb.WriteString("\n")
	for _, c := range t.Children {
		c.write(sb, indent+1)
	}
}

type symbolsOptions struct {
	tableRange bool
	timeout    time.Duration
}

func newSymbolsCommand(flags *CLIConfig, stdout, stderr io.Writer) *cobra.Command {
	opts := &symbolsOptions{}
	cmd := &cobra.Command{
		Use:   "symbols URI",
		Short: "Break a URI into its typed symbol segments",
		Long: `symbols asks the source named by URI to split it into segments and
prints one segment per line. With --range it also prints the span of
records the table currently holds.`,
		Args: cobra.ExactArgs(1),
		RunE: func(cmd *cobra.Command, args []string) error {
			cfg, err := loadConfig(flags)
			if err != nil {
				return err
			}
			logger := flags.logger(cfg, stderr)
			return runSymbols(cmd.Context(), flags, opts, cfg, args[0], stdout, logger)
		},
	}
	f := cmd.Flags()
	f.BoolVar(&opts.tableRange, "range", false, "Also print the table's record range")
	f.DurationVar(&opts.timeout, "timeout", 30*time.Second, "How long to wait for the source to connect")
	return cmd
}

func runSymbols(ctx context.Context, flags *CLIConfig, opts *symbolsOptions, cfg *config.Config,
	u string, stdout io.Writer, logger *slog.Logger,
) error {
	name, _, err := uri.Split(u)
	if err != nil {
		return err
	}

	a, err := newApp(cfg, logger)
	if err != nil {
		return err
	}
	defer func() { _ = a.stop(flags.ShutdownTimeout) }()
	if err := a.start(ctx); err != nil {
		return err
	}

	waitCtx, cancel := context.WithTimeout(ctx, opts.timeout)
	defer cancel()
	if err := a.waitConnected(waitCtx, name); err != nil {
		return err
	}

	var segs []symbol.Segment
	var breakErr error
	if err := a.call(ctx, func() { segs, breakErr = a.manager.BreakdownURI(u) }); err != nil {
		return err
	}
	if breakErr != nil {
		return breakErr
	}
	for _, s := range segs {
		if _, err := fmt.Fprintf(stdout, "%s\t%s\n", s.Type, s.Name); err != nil {
			return err
		}
	}

	if !opts.tableRange {
		return nil
	}
	type rangeResult struct {
		r access.TableRange
		f access.Failure
	}
	result := make(chan rangeResult, 1)
	if err := a.call(ctx, func() {
		a.manager.TableRange(u, func(r access.TableRange, f access.Failure) {
			result <- rangeResult{r, f}
		})
	}); err != nil {
		return err
	}
	select {
	case res := <-result:
		if res.f != access.FailureUnknown {
			return fmt.Errorf("table range of %s: %s", u, res.f)
		}
		_, err := fmt.Fprintf(stdout, "begin\t%d\t%d\t%s\nend\t%d\t%d\t%s\n",
			res.r.Begin.FileMark, res.r.Begin.RecordNo, res.r.Begin.Stamp.Format(time.RFC3339),
			res.r.End.FileMark, res.r.End.RecordNo, res.r.End.Stamp.Format(time.RFC3339))
		return err
	case <-waitCtx.Done():
		return fmt.Errorf("table range of %s: %w", u, context.Cause(waitCtx))
	}
}
