package constants

// Redis Key 格式常量
// 统一命名规范: app:{module}:{entity}:{unique_id}
const (
	// AppPrefix 所有 Key 的应用前缀
	AppPrefix = "app"

	// PipelineModulePrefix 消息处理模块
	PipelineModulePrefix = "pipeline"
	// SweepModulePrefix 巡检模块
	SweepModulePrefix = "sweep"

	// EntityLock 分布式锁
	EntityLock = "lock"
	// EntityDone 完成标记
	EntityDone = "done"

	// KeyMessageLock 消息处理中锁 (STRING)
	// 格式: app:pipeline:lock:{bodySHA256}
	KeyMessageLock = AppPrefix + ":" + PipelineModulePrefix + ":" + EntityLock + ":%s"

	// KeyMessageDone 消息已成功处理标记 (STRING)
	// 格式: app:pipeline:done:{bodySHA256}
	KeyMessageDone = AppPrefix + ":" + PipelineModulePrefix + ":" + EntityDone + ":%s"

	// KeySweepLeader not_joined 巡检的主节点锁 (STRING)
	// 格式: app:sweep:lock:not_joined
	KeySweepLeader = AppPrefix + ":" + SweepModulePrefix + ":" + EntityLock + ":not_joined"
)
