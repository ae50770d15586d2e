package bus

// historyCapacity — ёмкость кольцевого буфера истории событий.
// При переполнении вытесняется самое старое событие.
const historyCapacity = 1000

// history — кольцевой буфер последних событий.
//
// Не потокобезопасен сам по себе; синхронизация — на уровне Bus.
type history struct {
	events []*Event
	start  int // индекс самого старого события
	count  int
}

// newHistory создаёт пустую историю.
func newHistory() *history {
	return &history{
		events: make([]*Event, historyCapacity),
	}
}

// append добавляет событие, вытесняя самое старое при переполнении.
func (h *history) append(e *Event) {
	if h.count < len(h.events) {
		h.events[(h.start+h.count)%len(h.events)] = e
		h.count++
		return
	}
	// Буфер полон — перезаписываем самое старое
	h.events[h.start] = e
	h.start = (h.start + 1) % len(h.events)
}

// recent возвращает последние limit событий в хронологическом порядке,
// опционально отфильтрованные по типу (пустой тип — без фильтра).
// limit <= 0 — вернуть все.
func (h *history) recent(typeFilter EventType, limit int) []*Event {
	matched := make([]*Event, 0, h.count)
	for i := 0; i < h.count; i++ {
		e := h.events[(h.start+i)%len(h.events)]
		if typeFilter != "" && e.Type != typeFilter {
			continue
		}
		matched = append(matched, e)
	}

	if limit > 0 && len(matched) > limit {
		matched = matched[len(matched)-limit:]
	}
	return matched
}

// size возвращает количество событий в истории.
func (h *history) size() int {
	return h.count
}
