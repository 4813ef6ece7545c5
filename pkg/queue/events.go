package queue

import "github.com/ThreeDotsLabs/watermill/message"

// publish 构造并发布强类型事件.
func publish[T any](pub message.Publisher, topic string, payload T, opts ...HeaderOption) error {
	msg, err := NewWatermillMessage(topic, payload, opts...)
	if err != nil {
		return err
	}

	return pub.Publish(topic, msg)
}

// PublishFinalizeRequested 发布 pv.upload.finalize.requested 事件.
// 消息 ID 固定为 user|file，消费端可据此幂等.
func PublishFinalizeRequested(pub message.Publisher, payload FinalizeRequestedPayload, opts ...HeaderOption) error {
	msg, err := NewWatermillMessage(TopicFinalizeRequested, payload, opts...)
	if err != nil {
		return err
	}

	msg.UUID = payload.UserID + "|" + payload.FileID

	return pub.Publish(TopicFinalizeRequested, msg)
}

// ParseFinalizeRequested 解析合并请求.
func ParseFinalizeRequested(msg *message.Message) (Message[FinalizeRequestedPayload], error) {
	return ParseWatermillMessage[FinalizeRequestedPayload](msg)
}

// PublishFinalizeResult 按 Error 是否为空发布 succeeded 或 failed 事件.
func PublishFinalizeResult(pub message.Publisher, payload FinalizeResultPayload, opts ...HeaderOption) error {
	topic := TopicFinalizeSucceeded
	if payload.Error != "" {
		topic = TopicFinalizeFailed
	}

	return publish(pub, topic, payload, opts...)
}

// ParseFinalizeResult 解析合并结果.
func ParseFinalizeResult(msg *message.Message) (Message[FinalizeResultPayload], error) {
	return ParseWatermillMessage[FinalizeResultPayload](msg)
}

// PublishFileLifecycle 发布 recycled/restored/purged 之一.
func PublishFileLifecycle(pub message.Publisher, topic string, payload FileLifecyclePayload, opts ...HeaderOption) error {
	return publish(pub, topic, payload, opts...)
}

// ParseFileLifecycle 解析生命周期事件.
func ParseFileLifecycle(msg *message.Message) (Message[FileLifecyclePayload], error) {
	return ParseWatermillMessage[FileLifecyclePayload](msg)
}
