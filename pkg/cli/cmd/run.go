package cmd

import (
	"context"
	"errors"
	"fmt"
	"os"
	"os/signal"
	"syscall"
	"time"

	"github.com/spf13/cobra"

	"github.com/LENAX/build-coordinator/pkg/cli/output"
	"github.com/LENAX/build-coordinator/pkg/config"
	"github.com/LENAX/build-coordinator/pkg/core/notify"
	"github.com/LENAX/build-coordinator/pkg/core/task"
	"github.com/LENAX/build-coordinator/pkg/core/types"
)

var (
	runMode  string
	runCause string
)

// runCmd 本地执行配置集
var runCmd = &cobra.Command{
	Use:   "run <graph.yaml>",
	Short: "在本进程内执行配置集并等待完成",
	Long: `不依赖服务端，直接在本进程内构建配置集，构建记录写入配置文件指定的数据库。
收到 Ctrl+C 时取消未完成的任务。

示例：
  build-coordinator run ./graphs/product.yaml --config ./configs/coordinator.yaml`,
	Args: cobra.ExactArgs(1),
	RunE: func(cmd *cobra.Command, args []string) error {
		g, err := config.LoadGraphFile(args[0])
		if err != nil {
			output.Error("读取配置集失败: %v", err)
			return err
		}

		eng, err := newLocalEngine()
		if err != nil {
			output.Error("%v", err)
			return err
		}
		defer eng.Stop()

		ctx, stop := signal.NotifyContext(context.Background(), os.Interrupt, syscall.SIGTERM)
		defer stop()
		if err := eng.Start(ctx); err != nil {
			output.Error("启动Engine失败: %v", err)
			return err
		}

		if !outputJSON {
			_, _ = eng.Hub().SubscribeAll(notify.ListenerFunc(printEvent))
		}

		set, err := eng.SubmitGraphFile(ctx, g, runMode, runCause)
		if err != nil {
			output.Error("提交失败: %v", err)
			return err
		}

		status, err := eng.Wait(ctx, set.ID())
		if errors.Is(err, context.Canceled) {
			output.Warning("收到中断信号，正在取消组构建: %s", set.ID())
			_ = eng.CancelSet(context.Background(), set.ID())
			waitCtx, cancel := context.WithTimeout(context.Background(), 30*time.Second)
			defer cancel()
			status, err = eng.Wait(waitCtx, set.ID())
		}
		if err != nil {
			output.Error("等待组构建完成失败: %v", err)
			return err
		}
		// 等待事件输出完成再打印汇总
		drainCtx, cancel := context.WithTimeout(context.Background(), 5*time.Second)
		defer cancel()
		_ = eng.Hub().Drain(drainCtx)

		snap := set.Snapshot()
		if outputJSON {
			if err := output.PrintJSON(snap); err != nil {
				return err
			}
		} else {
			printRunSummary(snap)
		}
		if status != types.SetStatusDone {
			return fmt.Errorf("组构建未成功完成: %s", status)
		}
		return nil
	},
}

func init() {
	runCmd.Flags().StringVarP(&runMode, "mode", "m", "", "重建模式 (force/implicit/explicit)")
	runCmd.Flags().StringVar(&runCause, "cause", "cli", "触发原因")
}

// printEvent 输出状态变更
func printEvent(event notify.StatusChangedEvent) error {
	ts := event.Timestamp.Format("15:04:05")
	switch event.Kind {
	case notify.KindSet:
		fmt.Printf("%s  [set]  %s → %s %s\n", ts, event.OldStatus, output.FormatStatus(event.NewStatus), event.Reason)
	default:
		fmt.Printf("%s  [%s] %s  %s → %s\n", ts, event.TaskID, event.ConfigID, event.OldStatus, output.FormatStatus(event.NewStatus))
	}
	return nil
}

// printRunSummary 输出执行结果汇总
func printRunSummary(snap task.SetSnapshot) {
	fmt.Println()
	table := output.NewTable([]string{"TASK_ID", "CONFIG", "STATUS", "REUSED", "DURATION", "ERROR"})
	for _, t := range snap.Tasks {
		reused := "-"
		if t.Reused {
			reused = "yes"
		}
		duration := "-"
		if !t.StartTime.IsZero() && !t.EndTime.IsZero() {
			duration = t.EndTime.Sub(t.StartTime).Round(time.Millisecond).String()
		}
		errMsg := "-"
		if t.Result != nil && t.Result.Error != "" {
			errMsg = truncate(t.Result.Error, 40)
		}
		table.AddRow([]string{t.ID.String(), t.Config.DisplayName(), output.FormatStatus(string(t.Status)), reused, duration, errMsg})
	}
	table.Render()

	p := snap.Progress
	fmt.Printf("\n%s  %s\n", output.FormatStatus(string(snap.Status)), output.ProgressBar(p.Percent(), 30))
	fmt.Printf("完成: %d  复用: %d  失败: %d  总计: %d\n", p.Completed, p.Reused, p.Failed, p.Total)
	if snap.RejectReason != "" {
		fmt.Printf("拒绝原因: %s\n", snap.RejectReason)
	}
}

func truncate(s string, n int) string {
	r := []rune(s)
	if len(r) <= n {
		return s
	}
	return string(r[:n]) + "..."
}
