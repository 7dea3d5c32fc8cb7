package event

// EventProcessor 事件处理器接口（避免循环依赖）
type EventProcessor interface {
	ProcessEvent(event *Event)
}

// ProcessorFunc 函数适配为 EventProcessor
type ProcessorFunc func(event *Event)

// ProcessEvent 调用函数本身
func (f ProcessorFunc) ProcessEvent(event *Event) { f(event) }
