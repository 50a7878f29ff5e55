package merger

import (
	"bytes"
	"encoding/xml"
	"io"
)

type kind int

const (
	kindChannel kind = iota
	kindProgramme
)

func (k kind) String() string {
	if k == kindProgramme {
		return "programme"
	}
	return "channel"
}

// element - законченный фрагмент <channel> или <programme>.
// raw ссылается на байты исходного документа.
type element struct {
	kind  kind
	attrs []xml.Attr
	raw   []byte
}

func (e element) attr(name string) string {
	for _, a := range e.attrs {
		if a.Name.Local == name {
			return a.Value
		}
	}
	return ""
}

var candidates = [][]byte{[]byte("<channel"), []byte("<programme")}

// scan вызывает visit для каждого законченного элемента channel/programme в doc,
// в порядке документа. При синтаксической ошибке разбор продолжается со
// следующего открывающего тега после места сбоя. Возвращает число таких пропусков.
func scan(doc []byte, visit func(element)) int {
	recovered := 0
	offset := 0
	for offset < len(doc) {
		failedAt, done := scanFrom(doc, offset, visit)
		if done {
			break
		}
		next := nextCandidate(doc, failedAt+1)
		if next < 0 {
			break
		}
		recovered++
		offset = next
	}
	return recovered
}

// scanFrom разбирает doc начиная с offset до конца или до первой ошибки.
func scanFrom(doc []byte, offset int, visit func(element)) (failedAt int, done bool) {
	d := xml.NewDecoder(bytes.NewReader(doc[offset:]))
	d.Strict = true
	d.Entity = xml.HTMLEntity
	// Документ уже в UTF-8, объявленная кодировка игнорируется.
	d.CharsetReader = func(_ string, in io.Reader) (io.Reader, error) { return in, nil }

	for {
		pos := offset + int(d.InputOffset())
		tok, err := d.Token()
		if err == io.EOF {
			return 0, true
		}
		if err != nil {
			return pos, false
		}

		se, ok := tok.(xml.StartElement)
		if !ok {
			continue
		}
		k, ok := kindOf(se.Name.Local)
		if !ok {
			continue
		}
		if err := d.Skip(); err != nil {
			return pos, false
		}
		end := offset + int(d.InputOffset())
		visit(element{kind: k, attrs: se.Attr, raw: doc[pos:end:end]})
	}
}

func kindOf(local string) (kind, bool) {
	switch local {
	case "channel":
		return kindChannel, true
	case "programme":
		return kindProgramme, true
	}
	return 0, false
}

// nextCandidate ищет ближайший от from открывающий тег channel или programme.
func nextCandidate(doc []byte, from int) int {
	best := -1
	for from < len(doc) {
		best = -1
		for _, c := range candidates {
			i := bytes.Index(doc[from:], c)
			if i < 0 {
				continue
			}
			if best < 0 || from+i < best {
				best = from + i
			}
		}
		if best < 0 {
			return -1
		}
		if isTagBoundary(doc, best) {
			return best
		}
		from = best + 1
	}
	return -1
}

// isTagBoundary проверяет, что имя тега в позиции i не продолжается
// (<channels> или <programme-list> не подходят).
func isTagBoundary(doc []byte, i int) bool {
	n := len("<channel")
	if bytes.HasPrefix(doc[i:], candidates[1]) {
		n = len("<programme")
	}
	if i+n >= len(doc) {
		return false
	}
	switch doc[i+n] {
	case ' ', '\t', '\n', '\r', '>', '/':
		return true
	}
	return false
}
