package cmd

import (
	"fmt"
	"os"
	"path/filepath"
	"text/tabwriter"

	"github.com/spf13/cobra"

	"github.com/wentf9/sftpq/cmd/utils"
	"github.com/wentf9/sftpq/pkg/history"
)

func NewCmdHistory() *cobra.Command {
	var (
		runID    string
		limit    int
		listRuns bool
	)
	cmd := &cobra.Command{
		Use:   "history",
		Short: "查看已完成任务的历史记录",
		Long: `每次运行 put/get/shell 都会记录一次运行，进入终态的任务结果写入历史数据库。
默认显示最近一次运行的任务，--runs 列出运行记录。`,
		Args: cobra.NoArgs,
		RunE: func(cmd *cobra.Command, args []string) error {
			path := appConfig.History.Path
			if path == "" {
				path = filepath.Join(utils.ConfigDir(configFile), utils.HistoryDBName)
			}
			if _, err := os.Stat(path); err != nil {
				return fmt.Errorf("没有历史记录: %w", err)
			}
			store, err := history.Open(path)
			if err != nil {
				return err
			}
			defer store.Close()

			w := tabwriter.NewWriter(os.Stdout, 0, 0, 2, ' ', 0)
			defer w.Flush()
			if listRuns {
				runs, err := store.Runs(limit)
				if err != nil {
					return err
				}
				fmt.Fprintln(w, "RUN\tNODE\tSTARTED")
				for _, r := range runs {
					fmt.Fprintf(w, "%s\t%s\t%s\n", r.ID, r.Node, r.StartedAt.Format("2006-01-02 15:04:05"))
				}
				return nil
			}

			records, err := store.Records(runID, limit)
			if err != nil {
				return err
			}
			fmt.Fprintln(w, "JOB\tDIR\tSTATUS\tSIZE\tLOCAL\tREMOTE\tINFO")
			for _, r := range records {
				info := r.Error
				if info == "" {
					info = r.Message
				}
				fmt.Fprintf(w, "%d\t%s\t%s\t%d\t%s\t%s\t%s\n", r.JobID, r.Direction, r.Status, r.Size, r.LocalPath, r.RemotePath, info)
			}
			return nil
		},
	}
	cmd.Flags().StringVar(&runID, "run", "", "运行 ID，默认最近一次")
	cmd.Flags().IntVarP(&limit, "limit", "n", 0, "最多显示的条数")
	cmd.Flags().BoolVar(&listRuns, "runs", false, "列出运行记录")
	return cmd
}

func init() {
	rootCmd.AddCommand(NewCmdHistory())
}
