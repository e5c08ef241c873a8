package main

import (
	"bufio"
	"context"
	"flag"
	"fmt"
	"io"
	"os"
	"sort"
	"strconv"
	"strings"
	"time"

	"github.com/docker/go-units"
	"github.com/goccy/go-json"
	"github.com/olekukonko/tablewriter"
	"golang.org/x/term"

	"github.com/xtxerr/versionstore/internal/errors"
	"github.com/xtxerr/versionstore/internal/storage"
	"github.com/xtxerr/versionstore/internal/storage/aggregate"
	"github.com/xtxerr/versionstore/internal/storage/kv"
	"github.com/xtxerr/versionstore/internal/storage/types"
)

type command struct {
	name    string
	args    string
	summary string
	run     func(ctx context.Context, a *app, args []string) error
}

func commandList() []command {
	return []command{
		{"save", "[-branch b] [-major] [-delta] [-id id] [-tag t] <file>", "save a file as a new version", cmdSave},
		{"load", "[-o file] <id>", "write a version's content", cmdLoad},
		{"delete", "<id>", "delete a version", cmdDelete},
		{"list", "[-branch b]", "list versions, newest first", cmdList},
		{"branches", "", "list branches", cmdBranches},
		{"tag", "<id> <name>", "tag a version", cmdTag},
		{"untag", "<name>", "remove a tag", cmdUntag},
		{"metrics", "", "show storage metrics", cmdMetrics},
		{"cleanup", "[-dry-run]", "apply the retention policy", cmdCleanup},
		{"optimize", "", "recompress aged versions", cmdOptimize},
		{"usage", "", "show bytes stored under the namespace", cmdUsage},
		{"clear", "[-force]", "remove every key under the namespace", cmdClear},
		{"export", "<file>", "write the version catalog as Parquet", cmdExport},
		{"shell", "", "start the interactive shell", cmdShell},
		{"help", "", "show commands", cmdHelp},
	}
}

func lookup(name string) (command, bool) {
	for _, c := range commandList() {
		if c.name == name {
			return c, true
		}
	}
	return command{}, false
}

func printCommands(w io.Writer) {
	fmt.Fprintln(w, "Commands:")
	for _, c := range commandList() {
		usage := c.name
		if c.args != "" {
			usage += " " + c.args
		}
		fmt.Fprintf(w, "  %-58s %s\n", usage, c.summary)
	}
}

// newFlags returns a flag set whose parse errors map to errUsage.
func newFlags(name string) *flag.FlagSet {
	fs := flag.NewFlagSet(name, flag.ContinueOnError)
	fs.SetOutput(io.Discard)
	return fs
}

func parseFlags(fs *flag.FlagSet, args []string, positional int) ([]string, error) {
	if err := fs.Parse(args); err != nil {
		return nil, fmt.Errorf("%w: %s: %v", errUsage, fs.Name(), err)
	}
	if fs.NArg() != positional {
		c, _ := lookup(fs.Name())
		return nil, fmt.Errorf("%w: %s %s", errUsage, c.name, c.args)
	}
	return fs.Args(), nil
}

// =============================================================================
// Versions
// =============================================================================

func cmdSave(ctx context.Context, a *app, args []string) error {
	fs := newFlags("save")
	branch := fs.String("branch", "main", "branch name")
	major := fs.Bool("major", false, "mark as a major change")
	delta := fs.Bool("delta", false, "file holds a JSON delta instead of content")
	id := fs.String("id", "", "version id (default: generated)")
	tag := fs.String("tag", "", "tag to attach")
	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}

	data, err := os.ReadFile(rest[0])
	if err != nil {
		return fmt.Errorf("read %s: %w", rest[0], err)
	}

	meta := types.VersionMetadata{
		ID:         *id,
		Timestamp:  time.Now(),
		BranchID:   *branch,
		ChangeType: types.ChangeOrdinary,
	}
	if meta.ID == "" {
		meta.ID = types.NewVersionID()
	}
	if *major {
		meta.ChangeType = types.ChangeMajor
	}
	if *tag != "" {
		meta.Tags = []string{*tag}
	}

	v := types.NewSnapshot(meta, data)
	if *delta {
		d, err := types.DecodeDelta(data)
		if err != nil {
			return errors.NewIntegrity(meta.ID, err)
		}
		v = types.NewDelta(meta, d)
	}

	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	if err := b.SaveVersion(ctx, v); err != nil {
		return err
	}
	fmt.Fprintln(a.out, meta.ID)
	return nil
}

func cmdLoad(ctx context.Context, a *app, args []string) error {
	fs := newFlags("load")
	output := fs.String("o", "", "output file (default: stdout)")
	rest, err := parseFlags(fs, args, 1)
	if err != nil {
		return err
	}

	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	v, err := b.LoadVersion(ctx, rest[0])
	if err != nil {
		return err
	}
	if v == nil {
		return errors.NewNotFound("version", rest[0])
	}

	data, ok := v.Content()
	if !ok {
		d, _ := v.Delta()
		if data, err = json.MarshalIndent(d, "", "  "); err != nil {
			return err
		}
		data = append(data, '\n')
	}

	if *output == "" {
		_, err = a.out.Write(data)
		return err
	}
	return os.WriteFile(*output, data, 0o644)
}

func cmdDelete(ctx context.Context, a *app, args []string) error {
	rest, err := parseFlags(newFlags("delete"), args, 1)
	if err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	return b.DeleteVersion(ctx, rest[0])
}

func cmdList(ctx context.Context, a *app, args []string) error {
	fs := newFlags("list")
	branch := fs.String("branch", "", "only versions of this branch")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	b, err := a.store(ctx)
	if err != nil {
		return err
	}

	var list []types.VersionMetadata
	if *branch != "" {
		list, err = b.VersionsOnBranch(ctx, *branch)
	} else {
		list, err = b.GetVersionList(ctx)
	}
	if err != nil {
		return err
	}

	idx := b.Index()
	table := newTable(a.out, "ID", "TIME", "BRANCH", "CHANGE", "KIND", "SIZE", "TAGS")
	for _, m := range list {
		rec, _ := idx.Get(m.ID)
		kind := "delta"
		if rec.IsSnapshot {
			kind = "snapshot"
		}
		if rec.Compressed {
			kind += "+z"
		}
		table.Append([]string{
			m.ID,
			m.Timestamp.Local().Format(time.DateTime),
			m.BranchID,
			string(m.ChangeType),
			kind,
			units.BytesSize(float64(rec.Size)),
			strings.Join(m.Tags, ","),
		})
	}
	table.Render()
	return nil
}

func cmdBranches(ctx context.Context, a *app, args []string) error {
	if _, err := parseFlags(newFlags("branches"), args, 0); err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	branches, err := b.ListBranches(ctx)
	if err != nil {
		return err
	}

	table := newTable(a.out, "BRANCH", "HEAD", "VERSIONS", "SIZE")
	for _, br := range branches {
		table.Append([]string{
			br.Name,
			br.HeadVersionID,
			strconv.Itoa(br.VersionCount),
			units.BytesSize(float64(br.TotalSize)),
		})
	}
	table.Render()
	return nil
}

func cmdTag(ctx context.Context, a *app, args []string) error {
	rest, err := parseFlags(newFlags("tag"), args, 2)
	if err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	return b.TagVersion(ctx, rest[0], rest[1])
}

func cmdUntag(ctx context.Context, a *app, args []string) error {
	rest, err := parseFlags(newFlags("untag"), args, 1)
	if err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	return b.RemoveTag(ctx, rest[0])
}

// =============================================================================
// Maintenance
// =============================================================================

func cmdMetrics(ctx context.Context, a *app, args []string) error {
	if _, err := parseFlags(newFlags("metrics"), args, 0); err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	m, err := b.GetStorageMetrics(ctx)
	if err != nil {
		return err
	}

	w := a.out
	fmt.Fprintf(w, "Versions:     %d (%d snapshots, %d deltas) on %d branches, %d tags\n",
		m.TotalVersions, m.SnapshotCount, m.DeltaCount, m.Branches, m.Tags)
	fmt.Fprintf(w, "Stored:       %s (%.1f%% of budget, pressure %s)\n",
		units.BytesSize(float64(m.TotalSize)), m.UsageRatio*100, m.Pressure.CurrentLevel)
	fmt.Fprintf(w, "Compression:  %s -> %s (%.1f%% saved, %d of %d entries compressed, %d unreadable)\n",
		units.BytesSize(float64(m.Compression.OriginalBytes)),
		units.BytesSize(float64(m.Compression.StoredBytes)),
		m.Compression.Efficiency()*100,
		m.Compression.Compressed, m.Compression.Entries, m.Compression.Unreadable)
	if m.OldestVersion != "" {
		fmt.Fprintf(w, "Oldest:       %s (%s)\n", m.OldestVersion, m.OldestTime.Local().Format(time.DateTime))
		fmt.Fprintf(w, "Newest:       %s (%s)\n", m.NewestVersion, m.NewestTime.Local().Format(time.DateTime))
	}
	if !m.LastCleanup.IsZero() {
		fmt.Fprintf(w, "Last cleanup: %s\n", m.LastCleanup.Local().Format(time.DateTime))
	}
	if m.HasBackend {
		fmt.Fprintf(w, "Backend:      %d keys, %s used\n", m.Backend.Keys, units.BytesSize(float64(m.Backend.UsedBytes)))
	}
	fmt.Fprintf(w, "Cache:        %d entries, %d hits, %d misses\n", m.Cache.Entries, m.Cache.Hits, m.Cache.Misses)
	fmt.Fprintf(w, "Buffer:       %d pending, %d flushes, %d chunked writes\n",
		m.Buffer.Pending, m.Buffer.Flushes, m.Chunks.ChunkedWrites)

	if m.Sizes.Count == 0 {
		return nil
	}
	fmt.Fprintln(w)
	table := newTable(w, "BRANCH", "COUNT", "AVG", "P50", "P95", "MAX")
	keys := make([]string, 0, len(m.SizesByBranch))
	for k := range m.SizesByBranch {
		keys = append(keys, k)
	}
	sort.Strings(keys)
	for _, k := range keys {
		table.Append(sizeRow(k, m.SizesByBranch[k]))
	}
	table.Append(sizeRow("(all)", m.Sizes))
	table.Render()
	return nil
}

func sizeRow(name string, s aggregate.Summary) []string {
	return []string{
		name,
		strconv.FormatInt(s.Count, 10),
		units.BytesSize(s.Avg),
		units.BytesSize(s.P50),
		units.BytesSize(s.P95),
		units.BytesSize(s.Max),
	}
}

func cmdCleanup(ctx context.Context, a *app, args []string) error {
	fs := newFlags("cleanup")
	dryRun := fs.Bool("dry-run", false, "show what would be removed")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}

	if *dryRun {
		res, err := b.DryRunCleanup(ctx)
		if err != nil {
			return err
		}
		fmt.Fprintf(a.out, "would remove %d versions (%s), %d protected\n",
			len(res.Plan.Remove), units.BytesSize(float64(res.Plan.Bytes)), len(res.Plan.Protected))
		for _, id := range res.Plan.Remove {
			fmt.Fprintln(a.out, "  "+id)
		}
		return nil
	}

	res, err := b.Cleanup(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "removed %d versions, freed %s\n", len(res.Removed), units.BytesSize(float64(res.BytesFreed)))
	if res.Optimized {
		fmt.Fprintln(a.out, "storage still above the optimize threshold, recompressed aged versions")
	}
	return errors.Join(res.Errors...)
}

func cmdOptimize(ctx context.Context, a *app, args []string) error {
	if _, err := parseFlags(newFlags("optimize"), args, 0); err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	res, err := b.OptimizeStorage(ctx)
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "examined %d, recompressed %d, saved %s\n",
		res.Examined, res.Recompressed, units.BytesSize(float64(res.Saved())))
	return errors.Join(res.Errors...)
}

func cmdUsage(ctx context.Context, a *app, args []string) error {
	if _, err := parseFlags(newFlags("usage"), args, 0); err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}
	n, err := storage.GetStorageUsage(ctx, b.Store(), b.Namespace())
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "%s (%d bytes)\n", units.BytesSize(float64(n)), n)
	return nil
}

func cmdClear(ctx context.Context, a *app, args []string) error {
	fs := newFlags("clear")
	force := fs.Bool("force", false, "do not ask for confirmation")
	if _, err := parseFlags(fs, args, 0); err != nil {
		return err
	}

	if !*force {
		if !term.IsTerminal(int(os.Stdin.Fd())) {
			return fmt.Errorf("%w: clear needs -force when stdin is not a terminal", errUsage)
		}
		fmt.Fprintf(a.out, "remove every key under namespace %q? [y/N] ", a.cfg.Namespace)
		answer, _ := bufio.NewReader(os.Stdin).ReadString('\n')
		if strings.ToLower(strings.TrimSpace(answer)) != "y" {
			return nil
		}
	}

	// The Backend caches the index, so it must not outlive the clear
	if err := a.close(ctx); err != nil {
		return err
	}
	store, err := kv.Open(a.cfg.Backend)
	if err != nil {
		return err
	}
	defer store.Close()

	if err := storage.ClearVersionStorage(ctx, store, a.cfg.Namespace); err != nil {
		return err
	}
	fmt.Fprintf(a.out, "cleared namespace %q\n", a.cfg.Namespace)
	return nil
}

func cmdExport(ctx context.Context, a *app, args []string) error {
	rest, err := parseFlags(newFlags("export"), args, 1)
	if err != nil {
		return err
	}
	b, err := a.store(ctx)
	if err != nil {
		return err
	}

	f, err := os.Create(rest[0])
	if err != nil {
		return err
	}
	n, err := b.ExportCatalog(ctx, f)
	if cerr := f.Close(); err == nil {
		err = cerr
	}
	if err != nil {
		return err
	}
	fmt.Fprintf(a.out, "exported %d versions to %s\n", n, rest[0])
	return nil
}

func cmdHelp(_ context.Context, a *app, _ []string) error {
	printCommands(a.out)
	return nil
}

func newTable(w io.Writer, header ...string) *tablewriter.Table {
	table := tablewriter.NewWriter(w)
	table.SetHeader(header)
	table.SetAutoWrapText(false)
	table.SetBorder(false)
	return table
}
