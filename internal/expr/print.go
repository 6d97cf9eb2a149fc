package expr

import (
	"strings"
)

// String renders e in prefix syntax.
func (m *Manager) String(e Expr) string {
	var b strings.Builder
	m.write(&b, e)
	return b.String()
}

func (m *Manager) write(b *strings.Builder, e Expr) {
	switch m.Kind(e) {
	case KNum:
		b.WriteString(m.Num(e).String())
	case KTrue:
		b.WriteString("true")
	case KFalse:
		b.WriteString("false")
	case KConst:
		b.WriteString(m.Name(e))
	case KApp:
		b.WriteByte('(')
		b.WriteString(m.Name(e))
		for _, a := range m.Args(e) {
			b.WriteByte(' ')
			m.write(b, a)
		}
		b.WriteByte(')')
	case KForall, KExists:
		if m.Kind(e) == KForall {
			b.WriteString("(forall (")
		} else {
			b.WriteString("(exists (")
		}
		for i, v := range m.BoundVars(e) {
			if i > 0 {
				b.WriteByte(' ')
			}
			b.WriteByte('(')
			b.WriteString(m.Name(v))
			b.WriteByte(' ')
			b.WriteString(m.SortName(m.Sort(v)))
			b.WriteByte(')')
		}
		b.WriteString(") ")
		m.write(b, m.Body(e))
		b.WriteByte(')')
	default:
		b.WriteByte('(')
		b.WriteString(m.Kind(e).String())
		for _, a := range m.Args(e) {
			b.WriteByte(' ')
			m.write(b, a)
		}
		b.WriteByte(')')
	}
}
