package main

import (
	"context"
	"encoding/json"
	"fmt"
	"io"
	"os"
	"text/tabwriter"
	"time"

	"go.uber.org/zap"

	"github.com/BaSui01/egoqa/internal/store"
	"github.com/BaSui01/egoqa/types"
)

// =============================================================================
// 🛠️ 运维命令
// =============================================================================

// openAdminStore 为一次性命令打开存储，日志只输出到 stderr
func openAdminStore(ctx context.Context, configPath string) (store.Store, *zap.Logger, func(), error) {
	cfg, err := loadConfig(configPath)
	if err != nil {
		return nil, nil, nil, err
	}
	cfg.Log.OutputPaths = []string{"stderr"}
	logger := initLogger(cfg.Log)

	st, err := store.Open(ctx, cfg.Store, logger)
	if err != nil {
		return nil, nil, nil, fmt.Errorf("open store: %w", err)
	}
	cleanup := func() {
		_ = st.Close()
		_ = logger.Sync()
	}
	return st, logger, cleanup, nil
}

// runStatus 输出题库进度
func runStatus(args []string) error {
	fs, configPath := newFlagSet("status")
	asJSON := fs.Bool("json", false, "Print stats as JSON")
	verbose := fs.Bool("v", false, "List every record")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, _, cleanup, err := openAdminStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	records, err := st.List(ctx)
	if err != nil {
		return err
	}
	stats := store.ComputeStats(records)

	if *asJSON {
		enc := json.NewEncoder(os.Stdout)
		enc.SetIndent("", "  ")
		return enc.Encode(struct {
			*store.Stats
			Accuracy float64 `json:"accuracy"`
		}{stats, stats.Accuracy()})
	}

	printStats(os.Stdout, stats)
	if *verbose {
		fmt.Println()
		printRecords(os.Stdout, records)
	}
	return nil
}

func printStats(w io.Writer, s *store.Stats) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintf(tw, "total\t%d\n", s.Total)
	fmt.Fprintf(tw, "unclaimed\t%d\n", s.Unclaimed)
	fmt.Fprintf(tw, "processing\t%d\n", s.Processing)
	fmt.Fprintf(tw, "done\t%d\n", s.Done)
	fmt.Fprintf(tw, "answered\t%d\n", s.Answered)
	fmt.Fprintf(tw, "unknown\t%d\n", s.Unknown)
	fmt.Fprintf(tw, "accuracy\t%.4f (%d/%d)\n", s.Accuracy(), s.Correct, s.Graded)
	_ = tw.Flush()
}

func printRecords(w io.Writer, records []*types.QuestionRecord) {
	tw := tabwriter.NewWriter(w, 0, 4, 2, ' ', 0)
	fmt.Fprintln(tw, "ID\tSTATUS\tTRUTH\tPRED")
	for _, rec := range records {
		truth, pred := "-", "-"
		if rec.Truth != nil {
			truth = types.OptionLabel(*rec.Truth)
		}
		if rec.Result != nil {
			pred = types.OptionLabel(rec.Result.Prediction)
			if pred == "" {
				pred = fmt.Sprint(rec.Result.Prediction)
			}
		}
		fmt.Fprintf(tw, "%s\t%s\t%s\t%s\n", rec.ID, rec.Status, truth, pred)
	}
	_ = tw.Flush()
}

// runUnclaim 撤销 processing 记录；不带 id 且指定 --all 时撤销全部
func runUnclaim(args []string) error {
	fs, configPath := newFlagSet("unclaim")
	all := fs.Bool("all", false, "Revert every processing record")
	_ = fs.Parse(args)

	ctx := context.Background()
	st, logger, cleanup, err := openAdminStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	ids := fs.Args()
	if *all {
		records, err := st.List(ctx)
		if err != nil {
			return err
		}
		for _, rec := range records {
			if rec.Status == types.StatusProcessing {
				ids = append(ids, rec.ID)
			}
		}
	}
	if len(ids) == 0 {
		return fmt.Errorf("no record ids given (use --all to revert every processing record)")
	}

	reverted := 0
	for _, id := range ids {
		ok, err := st.Unclaim(ctx, id)
		if err != nil {
			return fmt.Errorf("unclaim %s: %w", id, err)
		}
		if ok {
			reverted++
		}
		logger.Info("unclaim", zap.String("question_id", id), zap.Bool("reverted", ok))
	}
	fmt.Printf("reverted %d of %d records\n", reverted, len(ids))
	return nil
}

// runImport 导入题库文件
func runImport(args []string) error {
	fs, configPath := newFlagSet("import")
	file := fs.String("file", "", "Question file to import (default: store.path)")
	_ = fs.Parse(args)

	ctx := context.Background()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	src := *file
	if src == "" {
		src = cfg.Store.Path
	}
	records, err := store.LoadRecords(src)
	if err != nil {
		return err
	}

	st, _, cleanup, err := openAdminStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	importer, ok := st.(store.Importer)
	if !ok {
		return fmt.Errorf("store backend %q does not support import", cfg.Store.Backend)
	}
	n, err := store.Import(ctx, importer, records)
	if err != nil {
		return err
	}
	fmt.Printf("imported %d of %d records\n", n, len(records))
	return nil
}

// runBackup 导出快照
func runBackup(args []string) error {
	fs, configPath := newFlagSet("backup")
	dir := fs.String("dir", "", "Backup directory (default: store.backup_dir or ./backups)")
	_ = fs.Parse(args)

	ctx := context.Background()
	cfg, err := loadConfig(*configPath)
	if err != nil {
		return err
	}
	target := *dir
	if target == "" {
		target = cfg.Store.BackupDir
	}
	if target == "" {
		target = "backups"
	}

	st, _, cleanup, err := openAdminStore(ctx, *configPath)
	if err != nil {
		return err
	}
	defer cleanup()

	path, err := store.Backup(ctx, st, target, time.Now())
	if err != nil {
		return err
	}
	fmt.Println(path)
	return nil
}
