// Package xconf 基于 koanf 加载作业存储配置。
//
// 支持 YAML（.yaml/.yml）与 JSON（.json），既可从文件加载，
// 也可从字节数据加载（如 K8s ConfigMap 挂载内容）。
//
// [LoadStore] / [LoadStoreBytes] 在默认值之上覆盖文件中出现的字段，再做校验：
//
//	cfg, err := xconf.LoadStore("/etc/xjobstore/store.yaml")
//	if err != nil {
//	    return err
//	}
//
// 时长字段接受 "30s"、"5m" 这类写法。
//
// 需要读取其他配置段时，用 [New] 取得 [Config]，
// 通过 Client() 直接访问底层 koanf 实例。
package xconf
