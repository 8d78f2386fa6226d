package hxtxn

// Kind identifies a component variant. The set is closed; wire tags that do
// not name a known kind decode to KindUnknown and render as a placeholder.
type Kind int

const (
	KindUnknown Kind = iota

	KindText
	KindEmail
	KindURL
	KindRichText
	KindNumber
	KindBoolean
	KindDate
	KindDateTime
	KindFile
	KindSelectSingle
	KindSelectMultiple
	KindSelectTable

	KindHeading
	KindMarkdown
	KindLink
	KindImage
	KindObject
	KindMetadata
	KindCode
	KindDisplayTable
	KindProgress

	kindCount
)

// ReturnType is the shape of value an element of a kind produces.
type ReturnType int

const (
	ReturnNone ReturnType = iota
	ReturnString
	ReturnNumber
	ReturnBool
	ReturnDate
	ReturnStrings
	ReturnFiles
	ReturnRows
)

func (r ReturnType) String() string {
	switch r {
	case ReturnString:
		return "string"
	case ReturnNumber:
		return "number"
	case ReturnBool:
		return "boolean"
	case ReturnDate:
		return "date"
	case ReturnStrings:
		return "string[]"
	case ReturnFiles:
		return "file[]"
	case ReturnRows:
		return "row[]"
	}
	return "none"
}

type kindInfo struct {
	tag     string
	returns ReturnType
	table   bool
}

var kinds = [kindCount]kindInfo{
	KindUnknown:        {tag: "unknown"},
	KindText:           {tag: "text", returns: ReturnString},
	KindEmail:          {tag: "email", returns: ReturnString},
	KindURL:            {tag: "url", returns: ReturnString},
	KindRichText:       {tag: "richText", returns: ReturnString},
	KindNumber:         {tag: "number", returns: ReturnNumber},
	KindBoolean:        {tag: "boolean", returns: ReturnBool},
	KindDate:           {tag: "date", returns: ReturnDate},
	KindDateTime:       {tag: "datetime", returns: ReturnDate},
	KindFile:           {tag: "file", returns: ReturnFiles},
	KindSelectSingle:   {tag: "selectSingle", returns: ReturnString},
	KindSelectMultiple: {tag: "selectMultiple", returns: ReturnStrings},
	KindSelectTable:    {tag: "selectTable", returns: ReturnRows, table: true},
	KindHeading:        {tag: "heading"},
	KindMarkdown:       {tag: "markdown"},
	KindLink:           {tag: "link"},
	KindImage:          {tag: "image"},
	KindObject:         {tag: "object"},
	KindMetadata:       {tag: "metadata"},
	KindCode:           {tag: "code"},
	KindDisplayTable:   {tag: "displayTable", table: true},
	KindProgress:       {tag: "progress"},
}

var kindsByTag = func() map[string]Kind {
	m := make(map[string]Kind, kindCount)
	for k := KindUnknown + 1; k < kindCount; k++ {
		m[kinds[k].tag] = k
	}
	return m
}()

// ParseKind maps a wire tag to a Kind.
func ParseKind(tag string) Kind {
	if k, ok := kindsByTag[tag]; ok {
		return k
	}
	return KindUnknown
}

// Kinds lists every known kind in declaration order.
func Kinds() []Kind {
	out := make([]Kind, 0, kindCount-1)
	for k := KindUnknown + 1; k < kindCount; k++ {
		out = append(out, k)
	}
	return out
}

func (k Kind) info() kindInfo {
	if k < 0 || k >= kindCount {
		return kinds[KindUnknown]
	}
	return kinds[k]
}

// String returns the wire tag.
func (k Kind) String() string { return k.info().tag }

// ReturnType reports what the kind produces on submit.
func (k Kind) ReturnType() ReturnType { return k.info().returns }

// ProducesValue reports whether the kind has a non-trivial return type.
func (k Kind) ProducesValue() bool { return k.info().returns != ReturnNone }

// IsTable reports whether the kind is backed by the table engine.
func (k Kind) IsTable() bool { return k.info().table }
