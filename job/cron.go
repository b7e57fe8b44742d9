package job

import (
	"context"
	"fmt"
	"time"

	"contract-extract/storage/postgres"

	"github.com/robfig/cron/v3"
)

func StartCronJob(pgRepo *postgres.DocumentRepo) {
	c := cron.New()

	// 每天凌晨 2 点把过了 due_date 还没完结的义务标成 overdue
	_, _ = c.AddFunc("0 0 2 * * *", func() {
		ctx := context.Background()
		rows, err := pgRepo.MarkOverdueObligations(ctx, time.Now())
		if err != nil {
			fmt.Println("[Cron] Error:", err)
		} else {
			fmt.Printf("[Cron] 标记了 %d 条过期义务\n", rows)
		}
	})

	c.Start()
}
