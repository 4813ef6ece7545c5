package jobs

// 任务名称常量，便于统一管理与引用.
const (
	JobRecycleSweep   = "recycle.sweep"
	JobStagingGC      = "staging.gc"
	JobQuotaReconcile = "quota.reconcile"
)

// Cron 表达式常量.
const (
	CronQuotaReconcile = "30 4 * * *" // 每天 04:30 校准所有用户的已用空间
)
