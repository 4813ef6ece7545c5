// Package queue 定义消息主题常量，供发布/订阅使用.
package queue

// 主题命名规范：pv.<域>.<动作>[.<状态>]，尽量稳定且向后兼容.
// 域：upload(分片上传与合并)、file(文件生命周期)
// 状态：请求(requested)、完成(succeeded)、失败(failed)

const (
	// 上传合并领域.
	TopicFinalizeRequested = "pv.upload.finalize.requested" // 分片齐全，请求合并（记录处于 Transferring）
	TopicFinalizeSucceeded = "pv.upload.finalize.succeeded" // 合并成功，记录可转为 Ready
	TopicFinalizeFailed    = "pv.upload.finalize.failed"    // 合并失败，记录转为 TransferFailed 并释放配额

	// 文件生命周期领域.
	TopicFileRecycled = "pv.file.recycled" // 放入回收站
	TopicFileRestored = "pv.file.restored" // 从回收站还原
	TopicFilePurged   = "pv.file.purged"   // 彻底删除（含清理任务）
)

// Topics 返回所有已知主题，用于运维命令与订阅初始化.
func Topics() []string {
	return []string{
		TopicFinalizeRequested,
		TopicFinalizeSucceeded,
		TopicFinalizeFailed,
		TopicFileRecycled,
		TopicFileRestored,
		TopicFilePurged,
	}
}
