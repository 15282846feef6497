// Package patent models EPO exchange documents and projects them into
// flat output records. Element matching ignores namespace prefixes, so
// documents parse the same whether or not the feed declares namespaces.
package patent

import (
	"fmt"
	"sort"
	"strings"

	"github.com/beevik/etree"
)

// Headers is the column order of every projected record.
var Headers = []string{"patent_id", "status", "cpc_list", "citations", "family_patents"}

// cpcScheme is the only classification scheme projected into cpc_list.
const cpcScheme = "CPCI"

// ExchangeDocument is one exchange-document element. The four identity
// attributes are mandatory; the optional groups stay nil when their
// subtree is absent or fails to parse.
type ExchangeDocument struct {
	Country   string
	DocNumber string
	Kind      string
	Status    string

	Classifications []Classification
	Citations       []Citation
	Family          []PublicationReference
}

// Classification is a scheme tag plus its classification symbol.
type Classification struct {
	Scheme string
	Symbol string
}

// Citation is a cited document with the examiner categories attached to
// it. CitedID is empty when the citation carries no patent identifier.
type Citation struct {
	CitedID    string
	Categories []string
}

// PublicationReference identifies one publication of a family member in
// a particular data format.
type PublicationReference struct {
	DataFormat string
	Country    string
	DocNumber  string
	Kind       string
}

// Record is one flat output row.
type Record struct {
	PatentID      string
	Status        string
	CPCList       string
	Citations     string
	FamilyPatents string
}

// Fields returns the record values in Headers order.
func (r Record) Fields() []string {
	return []string{r.PatentID, r.Status, r.CPCList, r.Citations, r.FamilyPatents}
}

// DocumentsFromXML extracts every exchange-document in the tree,
// wherever it is nested. A document with a missing identity attribute is
// a hard error; per the data contract those fields are always present.
func DocumentsFromXML(doc *etree.Document) ([]*ExchangeDocument, error) {
	var docs []*ExchangeDocument
	for _, el := range findAllDescendants(&doc.Element, "exchange-document") {
		d, err := documentFromElement(el)
		if err != nil {
			return nil, err
		}
		docs = append(docs, d)
	}
	return docs, nil
}

func documentFromElement(el *etree.Element) (*ExchangeDocument, error) {
	d := &ExchangeDocument{}
	for _, attr := range []struct {
		name string
		dst  *string
	}{
		{"country", &d.Country},
		{"doc-number", &d.DocNumber},
		{"kind", &d.Kind},
		{"status", &d.Status},
	} {
		a := el.SelectAttr(attr.name)
		if a == nil {
			return nil, fmt.Errorf("exchange-document missing %s attribute", attr.name)
		}
		*attr.dst = a.Value
	}

	// Optional groups: a malformed subtree drops the whole group rather
	// than failing the document.
	if cls, err := classificationsFrom(el); err == nil {
		d.Classifications = cls
	}
	if cits, err := citationsFrom(el); err == nil {
		d.Citations = cits
	}
	if fam, err := familyFrom(el); err == nil {
		d.Family = fam
	}
	return d, nil
}

func classificationsFrom(el *etree.Element) ([]Classification, error) {
	var out []Classification
	for _, container := range findAllDescendants(el, "patent-classifications") {
		for _, pc := range childElements(container, "patent-classification") {
			scheme := firstChild(pc, "classification-scheme")
			if scheme == nil {
				return nil, fmt.Errorf("patent-classification without classification-scheme")
			}
			schemeAttr := scheme.SelectAttr("scheme")
			if schemeAttr == nil {
				return nil, fmt.Errorf("classification-scheme without scheme attribute")
			}
			symbol := firstChild(pc, "classification-symbol")
			if symbol == nil {
				return nil, fmt.Errorf("patent-classification without classification-symbol")
			}
			out = append(out, Classification{
				Scheme: schemeAttr.Value,
				Symbol: textContent(symbol),
			})
		}
	}
	return out, nil
}

func citationsFrom(el *etree.Element) ([]Citation, error) {
	var out []Citation
	for _, container := range findAllDescendants(el, "references-cited") {
		for _, cit := range childElements(container, "citation") {
			out = append(out, Citation{
				CitedID:    citedID(cit),
				Categories: citationCategories(cit),
			})
		}
	}
	return out, nil
}

// citedID reads patcit/document-id and concatenates country, doc-number
// and kind. Returns "" when no identifier component is present.
func citedID(cit *etree.Element) string {
	patcit := firstChild(cit, "patcit")
	if patcit == nil {
		return ""
	}
	docID := firstChild(patcit, "document-id")
	if docID == nil {
		return ""
	}
	country := strings.TrimSpace(childText(docID, "country"))
	number := strings.TrimSpace(childText(docID, "doc-number"))
	kind := strings.TrimSpace(childText(docID, "kind"))
	if country == "" && number == "" && kind == "" {
		return ""
	}
	return country + number + kind
}

// citationCategories lists the citation's direct category children first,
// then categories nested under rel-passage elements, in document order.
func citationCategories(cit *etree.Element) []string {
	var cats []string
	for _, c := range childElements(cit, "category") {
		if v := strings.TrimSpace(textContent(c)); v != "" {
			cats = append(cats, v)
		}
	}
	for _, rp := range childElements(cit, "rel-passage") {
		for _, c := range childElements(rp, "category") {
			if v := strings.TrimSpace(textContent(c)); v != "" {
				cats = append(cats, v)
			}
		}
	}
	return cats
}

func familyFrom(el *etree.Element) ([]PublicationReference, error) {
	var out []PublicationReference
	for _, container := range findAllDescendants(el, "patent-family") {
		for _, member := range childElements(container, "family-member") {
			for _, pubRef := range childElements(member, "publication-reference") {
				format := pubRef.SelectAttr("data-format")
				if format == nil {
					return nil, fmt.Errorf("publication-reference without data-format attribute")
				}
				docID := firstChild(pubRef, "document-id")
				if docID == nil {
					return nil, fmt.Errorf("publication-reference without document-id")
				}
				out = append(out, PublicationReference{
					DataFormat: format.Value,
					Country:    childText(docID, "country"),
					DocNumber:  childText(docID, "doc-number"),
					Kind:       childText(docID, "kind"),
				})
			}
		}
	}
	return out, nil
}

// Record projects the document to its output row.
func (d *ExchangeDocument) Record() Record {
	patentID := d.Country + d.DocNumber + d.Kind

	var cpcs []string
	for _, c := range d.Classifications {
		if c.Scheme == cpcScheme {
			cpcs = append(cpcs, strings.TrimSpace(c.Symbol))
		}
	}

	var citations []string
	for _, c := range d.Citations {
		if c.CitedID == "" {
			continue
		}
		citations = append(citations, fmt.Sprintf("%s (%s)", c.CitedID, strings.Join(c.Categories, ",")))
	}

	familySet := make(map[string]struct{})
	for _, pr := range d.Family {
		if pr.DataFormat != "docdb" {
			continue
		}
		id := pr.Country + pr.DocNumber + pr.Kind
		if id != patentID {
			familySet[id] = struct{}{}
		}
	}
	family := make([]string, 0, len(familySet))
	for id := range familySet {
		family = append(family, id)
	}
	sort.Strings(family)

	return Record{
		PatentID:      patentID,
		Status:        d.Status,
		CPCList:       strings.Join(cpcs, ";"),
		Citations:     strings.Join(citations, ";"),
		FamilyPatents: strings.Join(family, ";"),
	}
}

// findAllDescendants returns every descendant element whose local name
// matches, in document order, regardless of namespace prefix.
func findAllDescendants(el *etree.Element, local string) []*etree.Element {
	var found []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			found = append(found, child)
		}
		found = append(found, findAllDescendants(child, local)...)
	}
	return found
}

// childElements returns the direct children with the given local name.
func childElements(el *etree.Element, local string) []*etree.Element {
	var found []*etree.Element
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			found = append(found, child)
		}
	}
	return found
}

func firstChild(el *etree.Element, local string) *etree.Element {
	for _, child := range el.ChildElements() {
		if child.Tag == local {
			return child
		}
	}
	return nil
}

// childText returns the full text content of the first matching child,
// or "" when absent.
func childText(el *etree.Element, local string) string {
	c := firstChild(el, local)
	if c == nil {
		return ""
	}
	return textContent(c)
}

// textContent concatenates all character data beneath el.
func textContent(el *etree.Element) string {
	var sb strings.Builder
	for _, tok := range el.Child {
		switch t := tok.(type) {
		case *etree.CharData:
			sb.WriteString(t.Data)
		case *etree.Element:
			sb.WriteString(textContent(t))
		}
	}
	return sb.String()
}
