package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"strings"
	"syscall"

	"github.com/spf13/cobra"

	"github.com/LENAX/build-coordinator/pkg/api/dto"
	"github.com/LENAX/build-coordinator/pkg/cli/client"
	"github.com/LENAX/build-coordinator/pkg/cli/output"
)

var (
	setStatus   string
	setLimit    int
	setMode     string
	setCause    string
	setWatch    bool
	setConfigID string
)

// setCmd set子命令
var setCmd = &cobra.Command{
	Use:   "set",
	Short: "组构建管理命令",
	Long:  `通过HTTP API提交配置集，查看、取消组构建，订阅状态变更。`,
}

// setSubmitCmd 提交配置集
var setSubmitCmd = &cobra.Command{
	Use:   "submit <graph.yaml>",
	Short: "提交配置集",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		content, err := os.ReadFile(args[0])
		if err != nil {
			output.Error("读取配置集失败: %v", err)
			return err
		}

		c := client.New(serverURL)
		resp, err := c.SubmitBuildSet(cmd.Context(), dto.SubmitBuildSetRequest{
			Content: string(content),
			Mode:    setMode,
			Cause:   setCause,
		})
		var apiErr *client.APIError
		if errors.As(err, &apiErr) && resp != nil {
			output.Error("组构建被拒绝: %s (SetID=%s)", resp.Message, resp.SetID)
			return err
		}
		if err != nil {
			output.Error("提交失败: %v", err)
			return err
		}

		if outputJSON && !setWatch {
			return output.PrintJSON(resp)
		}
		if !outputJSON {
			output.Success("%s: %s", resp.Message, resp.SetID)
		}
		if setWatch {
			return watchSet(cmd.Context(), c, resp.SetID)
		}
		return nil
	},
}

// setListCmd 列出组构建
var setListCmd = &cobra.Command{
	Use:   "list",
	Short: "列出进行中和最近完成的组构建",
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL)
		result, err := c.ListBuildSets(cmd.Context(), setStatus, setLimit, 0)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}

		if outputJSON {
			return output.PrintJSON(result)
		}

		if len(result.Items) == 0 {
			output.Info("暂无组构建")
			return nil
		}

		table := output.NewTable([]string{"SET_ID", "NAME", "MODE", "STATUS", "PROGRESS", "CREATED", "DURATION"})
		for _, s := range result.Items {
			duration := "-"
			if s.Duration != "" {
				duration = s.Duration
			}
			table.AddRow([]string{
				s.ID,
				s.Name,
				s.Mode,
				output.FormatStatus(s.Status),
				fmt.Sprintf("%d/%d", s.Progress.Completed+s.Progress.Failed, s.Progress.Total),
				s.CreatedAt.Format("2006-01-02 15:04:05"),
				duration,
			})
		}
		table.Render()
		if result.HasMore {
			fmt.Printf("\n共 %d 条，仅显示前 %d 条\n", result.Total, len(result.Items))
		}
		return nil
	},
}

// setStatusCmd 查看组构建状态
var setStatusCmd = &cobra.Command{
	Use:   "status <id>",
	Short: "查看组构建状态",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL)
		detail, err := c.GetBuildSet(cmd.Context(), args[0])
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(detail)
		}
		printSetDetail(detail)
		return nil
	},
}

// setCancelCmd 取消组构建
var setCancelCmd = &cobra.Command{
	Use:   "cancel <id>",
	Short: "取消组构建中所有未完成的任务",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL)
		if err := c.CancelBuildSet(cmd.Context(), args[0]); err != nil {
			output.Error("取消失败: %v", err)
			return err
		}
		output.Success("组构建已请求取消: %s", args[0])
		return nil
	},
}

// setRecordsCmd 查询构建记录
var setRecordsCmd = &cobra.Command{
	Use:   "records <id>",
	Short: "查询组构建已入库的构建记录",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		c := client.New(serverURL)
		result, err := c.ListRecords(cmd.Context(), args[0], setConfigID, setStatus, setLimit)
		if err != nil {
			output.Error("查询失败: %v", err)
			return err
		}
		if outputJSON {
			return output.PrintJSON(result)
		}
		if len(result.Items) == 0 {
			output.Info("暂无构建记录")
			return nil
		}

		table := output.NewTable([]string{"TASK_ID", "CONFIG", "STATUS", "FINGERPRINT", "REASON", "DURATION", "ERROR"})
		for _, r := range result.Items {
			duration := "-"
			if r.Duration != "" {
				duration = r.Duration
			}
			errMsg := "-"
			if r.ErrorMessage != "" {
				errMsg = truncate(r.ErrorMessage, 30)
			}
			table.AddRow([]string{
				fmt.Sprintf("%d", r.TaskID),
				r.ConfigID,
				output.FormatStatus(r.Status),
				r.Fingerprint,
				r.DecisionReason,
				duration,
				errMsg,
			})
		}
		table.Render()
		fmt.Printf("\n总计: %d 条记录\n", result.Total)
		return nil
	},
}

// setWatchCmd 订阅状态变更
var setWatchCmd = &cobra.Command{
	Use:   "watch <id>",
	Short: "实时查看组构建状态变更，直到组构建结束",
	Args:  cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		return watchSet(cmd.Context(), client.New(serverURL), args[0])
	},
}

func init() {
	setSubmitCmd.Flags().StringVarP(&setMode, "mode", "m", "", "重建模式 (force/implicit/explicit)")
	setSubmitCmd.Flags().StringVar(&setCause, "cause", "cli", "触发原因")
	setSubmitCmd.Flags().BoolVarP(&setWatch, "watch", "w", false, "提交后订阅状态变更直到完成")

	setListCmd.Flags().StringVar(&setStatus, "status", "", "按状态过滤 (NEW/DONE/DONE_WITH_ERRORS/REJECTED)")
	setListCmd.Flags().IntVar(&setLimit, "limit", 20, "返回记录数量限制")

	setRecordsCmd.Flags().StringVar(&setConfigID, "config-id", "", "按配置ID过滤")
	setRecordsCmd.Flags().StringVar(&setStatus, "status", "", "按状态过滤 (DONE/DONE_WITH_ERRORS/...)")
	setRecordsCmd.Flags().IntVar(&setLimit, "limit", 100, "返回记录数量限制")

	// 添加子命令
	setCmd.AddCommand(setSubmitCmd)
	setCmd.AddCommand(setListCmd)
	setCmd.AddCommand(setStatusCmd)
	setCmd.AddCommand(setCancelCmd)
	setCmd.AddCommand(setRecordsCmd)
	setCmd.AddCommand(setWatchCmd)
}

// watchSet 订阅组构建事件并输出，组构建失败时返回错误
func watchSet(ctx context.Context, c *client.Client, setID string) error {
	if ctx == nil {
		ctx = context.Background()
	}
	ctx, stop := signal.NotifyContext(ctx, os.Interrupt, syscall.SIGTERM)
	defer stop()

	var final *dto.BuildSetDetail
	err := c.WatchBuildSet(ctx, setID, func(msg dto.StreamMessage) error {
		if outputJSON {
			return output.PrintJSON(msg)
		}
		switch msg.Type {
		case "snapshot":
			final = msg.Set
			if msg.Set != nil {
				fmt.Printf("订阅组构建: %s (%s)  %s\n", msg.Set.ID, msg.Set.Name, output.ProgressBar(msg.Set.Progress.Percent, 30))
			}
		case "event":
			if msg.Event != nil {
				_ = printEvent(*msg.Event)
			}
		}
		return nil
	})
	if errors.Is(err, context.Canceled) {
		output.Warning("已停止订阅（组构建仍在服务端继续执行）")
		return nil
	}
	if err != nil {
		output.Error("订阅失败: %v", err)
		return err
	}
	if outputJSON || final == nil {
		return nil
	}
	fmt.Println()
	printSetDetail(final)
	if final.Status != "DONE" {
		return fmt.Errorf("组构建未成功完成: %s", final.Status)
	}
	return nil
}

// printSetDetail 输出组构建详情
func printSetDetail(d *dto.BuildSetDetail) {
	fmt.Printf("BuildSet: %s\n", d.ID)
	fmt.Printf("Name:     %s\n", d.Name)
	fmt.Printf("Mode:     %s\n", d.Mode)
	if d.Cause != "" {
		fmt.Printf("Cause:    %s\n", d.Cause)
	}
	fmt.Printf("Status:   %s\n", output.FormatStatus(d.Status))
	fmt.Printf("Progress: %s  (%d/%d, 复用 %d, 失败 %d)\n",
		output.ProgressBar(d.Progress.Percent, 30),
		d.Progress.Completed+d.Progress.Failed, d.Progress.Total, d.Progress.Reused, d.Progress.Failed)
	fmt.Printf("Created:  %s\n", d.CreatedAt.Format("2006-01-02 15:04:05"))
	if d.FinishedAt != nil {
		fmt.Printf("Finished: %s (%s)\n", d.FinishedAt.Format("2006-01-02 15:04:05"), d.Duration)
	}
	if d.RejectReason != "" {
		fmt.Printf("Reject:   %s\n", d.RejectReason)
	}

	fmt.Println("\nTasks:")
	for _, t := range d.Tasks {
		line := fmt.Sprintf("  %s [%d] %s  %s", output.StatusIcon(t.Status), t.ID, t.ConfigID, t.Status)
		if t.Reused {
			line += "  (reused)"
		}
		if t.Duration != "" {
			line += "  " + t.Duration
		}
		if t.ErrorMessage != "" {
			line += "  " + truncate(t.ErrorMessage, 60)
		}
		fmt.Println(strings.TrimRight(line, " "))
	}
}
