package merger

import (
	"strings"

	"epg_aggregator/internal/models"
)

// Stats - счётчики одного объединения.
type Stats struct {
	Documents           int
	Absent              int
	Channels            int
	Programmes          int
	DuplicateChannels   int
	DuplicateProgrammes int
	InvalidChannels     int
	InvalidProgrammes   int
	Recovered           int
}

// Merger собирает каналы и передачи из документов, оставляя первое
// вхождение каждого ключа. Не безопасен для конкурентного использования.
type Merger struct {
	feed       models.Feed
	channels   map[string]struct{}
	programmes map[models.ProgrammeKey]struct{}
	stats      Stats
}

func New() *Merger {
	return &Merger{
		channels:   make(map[string]struct{}),
		programmes: make(map[models.ProgrammeKey]struct{}),
	}
}

// Merge объединяет документы в порядке их передачи.
func Merge(docs []models.RawDocument) (*models.Feed, Stats) {
	m := New()
	for _, doc := range docs {
		m.Add(doc)
	}
	return m.Feed(), m.Stats()
}

// Add добавляет фрагменты документа. Отсутствующий документ только учитывается.
func (m *Merger) Add(doc models.RawDocument) {
	m.stats.Documents++
	if doc.Absent() {
		m.stats.Absent++
		return
	}
	m.stats.Recovered += scan(doc.Body, m.visit)
}

func (m *Merger) visit(e element) {
	switch e.kind {
	case kindChannel:
		m.addChannel(e)
	case kindProgramme:
		m.addProgramme(e)
	}
}

func (m *Merger) addChannel(e element) {
	id := strings.TrimSpace(e.attr("id"))
	if id == "" {
		m.stats.InvalidChannels++
		return
	}
	if _, seen := m.channels[id]; seen {
		m.stats.DuplicateChannels++
		return
	}
	m.channels[id] = struct{}{}
	m.feed.Channels = append(m.feed.Channels, models.ChannelRecord{ID: id, Fragment: e.raw})
	m.stats.Channels++
}

func (m *Merger) addProgramme(e element) {
	rec := models.ProgrammeRecord{
		Channel:  e.attr("channel"),
		Start:    e.attr("start"),
		Fragment: e.raw,
	}
	if rec.Channel == "" || rec.Start == "" {
		m.stats.InvalidProgrammes++
		return
	}
	key := rec.Key()
	if _, seen := m.programmes[key]; seen {
		m.stats.DuplicateProgrammes++
		return
	}
	m.programmes[key] = struct{}{}
	m.feed.Programmes = append(m.feed.Programmes, rec)
	m.stats.Programmes++
}

// Feed возвращает собранную программу. Вызывающий не должен менять её.
func (m *Merger) Feed() *models.Feed {
	return &m.feed
}

func (m *Merger) Stats() Stats {
	return m.stats
}
