package models

import "bytes"

// Format описывает формат выдачи объединённой программы.
type Format int

const (
	FormatXML Format = iota
	FormatGzip
)

func (f Format) String() string {
	if f == FormatGzip {
		return "gz"
	}
	return "xml"
}

const (
	ContentTypeXML  = "application/xml; charset=utf-8"
	ContentTypeGzip = "application/gzip"

	// GeneratorName записывается в атрибут generator-info-name корневого элемента.
	GeneratorName = "epg-aggregator"
)

// RawDocument содержит текст одного загруженного источника.
// При ошибке загрузки Body пуст, а Err заполнен.
type RawDocument struct {
	Source string
	Body   []byte
	Err    error
}

// Absent сообщает, что источник ничего не дал.
func (d RawDocument) Absent() bool {
	return d.Err != nil || d.Body == nil
}

// ChannelRecord - фрагмент <channel> в исходном виде и его идентификатор.
type ChannelRecord struct {
	ID       string
	Fragment []byte
}

// ProgrammeRecord - фрагмент <programme> в исходном виде.
// Start не разбирается как время, это непрозрачная строка ключа.
type ProgrammeRecord struct {
	Channel  string
	Start    string
	Fragment []byte
}

// ProgrammeKey - ключ уникальности передачи.
type ProgrammeKey struct {
	Channel string
	Start   string
}

func (p ProgrammeRecord) Key() ProgrammeKey {
	return ProgrammeKey{Channel: p.Channel, Start: p.Start}
}

// Feed - объединённая программа: сначала каналы, затем передачи.
type Feed struct {
	Channels   []ChannelRecord
	Programmes []ProgrammeRecord
}

const (
	feedHeader = `<?xml version="1.0" encoding="UTF-8"?>` + "\n" +
		`<tv generator-info-name="` + GeneratorName + `">` + "\n"
	feedFooter = `</tv>`
)

// Encode сериализует Feed в XMLTV-документ. Фрагменты выводятся байт в байт,
// по одному на строку.
func (f *Feed) Encode() []byte {
	size := len(feedHeader) + len(feedFooter)
	for _, ch := range f.Channels {
		size += len(ch.Fragment) + 1
	}
	for _, p := range f.Programmes {
		size += len(p.Fragment) + 1
	}

	var buf bytes.Buffer
	buf.Grow(size)
	buf.WriteString(feedHeader)
	for _, ch := range f.Channels {
		buf.Write(ch.Fragment)
		buf.WriteByte('\n')
	}
	for _, p := range f.Programmes {
		buf.Write(p.Fragment)
		buf.WriteByte('\n')
	}
	buf.WriteString(feedFooter)
	return buf.Bytes()
}
