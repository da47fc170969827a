package category

import (
	"github.com/paulmach/osm"
	"github.com/rotisserie/eris"
	lua "github.com/yuin/gopher-lua"
)

// ScriptMatcher classifies elements with a Lua function, for rules the
// key/value patterns cannot express. The script must define
//
//	categories = { "label_a", "label_b", ... }
//	function classify(tags) ... return "label_a" end
//
// classify receives the element tags as a table and returns a label or nil.
// A ScriptMatcher is not safe for concurrent use.
type ScriptMatcher struct {
	L        *lua.LState
	classify *lua.LFunction
	names    []string
	known    map[string]bool

	failures int64
	firstErr error
}

// NewScriptMatcher compiles Lua source
func NewScriptMatcher(code string) (*ScriptMatcher, error) {
	m := newScriptState()
	if err := m.L.DoString(code); err != nil {
		m.Close()
		return nil, eris.Wrap(err, "category: load classifier script")
	}
	if err := m.bind(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

// LoadScript compiles a Lua classifier file
func LoadScript(path string) (*ScriptMatcher, error) {
	m := newScriptState()
	if err := m.L.DoFile(path); err != nil {
		m.Close()
		return nil, eris.Wrapf(err, "category: load classifier script %s", path)
	}
	if err := m.bind(); err != nil {
		m.Close()
		return nil, err
	}
	return m, nil
}

func newScriptState() *ScriptMatcher {
	L := lua.NewState()
	L.SetGlobal("split_values", L.NewFunction(luaSplitValues))
	return &ScriptMatcher{L: L, known: make(map[string]bool)}
}

func (m *ScriptMatcher) bind() error {
	fn, ok := m.L.GetGlobal("classify").(*lua.LFunction)
	if !ok {
		return eris.New("category: classifier script does not define classify(tags)")
	}
	m.classify = fn

	cats, ok := m.L.GetGlobal("categories").(*lua.LTable)
	if !ok {
		return eris.New("category: classifier script does not define a categories table")
	}
	var bad error
	cats.ForEach(func(_, v lua.LValue) {
		s, ok := v.(lua.LString)
		if !ok || s == "" {
			bad = eris.Errorf("category: categories entry %v is not a label", v)
			return
		}
		if !m.known[string(s)] {
			m.known[string(s)] = true
			m.names = append(m.names, string(s))
		}
	})
	if bad != nil {
		return bad
	}
	if len(m.names) == 0 {
		return eris.New("category: classifier script declares no categories")
	}
	return nil
}

// Close releases the Lua state
func (m *ScriptMatcher) Close() {
	m.L.Close()
}

// Categories returns the labels declared by the script
func (m *ScriptMatcher) Categories() []string {
	return append([]string(nil), m.names...)
}

// Match calls classify(tags). Script errors and undeclared labels count as
// no match; see Err.
func (m *ScriptMatcher) Match(tags osm.Tags) (string, bool) {
	tbl := m.L.CreateTable(0, len(tags))
	for _, t := range tags {
		tbl.RawSetString(t.Key, lua.LString(t.Value))
	}

	if err := m.L.CallByParam(lua.P{
		Fn:      m.classify,
		NRet:    1,
		Protect: true,
	}, tbl); err != nil {
		m.fail(eris.Wrap(err, "category: classify"))
		return "", false
	}

	ret := m.L.Get(-1)
	m.L.Pop(1)

	label, ok := ret.(lua.LString)
	if !ok {
		return "", false
	}
	if !m.known[string(label)] {
		m.fail(eris.Errorf("category: classify returned undeclared label %q", string(label)))
		return "", false
	}
	return string(label), true
}

func (m *ScriptMatcher) fail(err error) {
	m.failures++
	if m.firstErr == nil {
		m.firstErr = err
	}
}

// Err returns how many calls failed and the first failure
func (m *ScriptMatcher) Err() (int64, error) {
	return m.failures, m.firstErr
}

// luaSplitValues exposes SplitValues: split_values("a;b") -> {"a", "b"}
func luaSplitValues(L *lua.LState) int {
	s := L.CheckString(1)
	out := L.NewTable()
	for i, p := range SplitValues(s) {
		out.RawSetInt(i+1, lua.LString(p))
	}
	L.Push(out)
	return 1
}
