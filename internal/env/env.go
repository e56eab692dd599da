package env

import (
	"os"
	"sort"
	"strings"
)

type Var map[string]string

// Env composes the environment handed to script processes.
// It is immutable after construction: WithSet/WithPairs return copies so a
// value can be shared across goroutines without locking.
type Env struct {
	vars   Var // global variables (K->V)
	base   Var // base environment, OS by default
	noBase bool
}

func New() *Env {
	return &Env{vars: make(Var)}
}

// FromOS returns a copy of e whose base is the current process environment.
func (e *Env) FromOS() *Env {
	c := e.clone()
	c.base = parsePairs(os.Environ())
	c.noBase = false
	return c
}

// WithoutBase returns a copy of e that does not inherit any base environment.
func (e *Env) WithoutBase() *Env {
	c := e.clone()
	c.base = nil
	c.noBase = true
	return c
}

// WithSet returns a copy of e with K=V set.
func (e *Env) WithSet(k, v string) *Env {
	c := e.clone()
	if k != "" {
		c.vars[k] = v
	}
	return c
}

// WithPairs returns a copy of e with every "K=V" entry applied in order.
func (e *Env) WithPairs(kvs []string) *Env {
	c := e.clone()
	for k, v := range parsePairs(kvs) {
		c.vars[k] = v
	}
	return c
}

// Merge composes the final environment list applying order:
// base (OS env unless WithoutBase), then global vars, then perRun "K=V"
// overrides. ${VAR} references are expanded against the composed map
// (single pass, no recursion). The result is sorted by key.
func (e *Env) Merge(perRun []string) []string {
	m := make(Var)
	if !e.noBase {
		base := e.base
		if base == nil {
			base = parsePairs(os.Environ())
		}
		for k, v := range base {
			m[k] = v
		}
	}
	for k, v := range e.vars {
		m[k] = v
	}
	for k, v := range parsePairs(perRun) {
		m[k] = v
	}
	out := make([]string, 0, len(m))
	for k, v := range m {
		out = append(out, k+"="+expand(v, m))
	}
	sort.Strings(out)
	return out
}

func (e *Env) clone() *Env {
	c := &Env{vars: make(Var, len(e.vars)), base: e.base, noBase: e.noBase}
	for k, v := range e.vars {
		c.vars[k] = v
	}
	return c
}

func parsePairs(kvs []string) Var {
	m := make(Var, len(kvs))
	for _, kv := range kvs {
		if i := strings.IndexByte(kv, '='); i > 0 {
			m[kv[:i]] = kv[i+1:]
		}
	}
	return m
}

func expand(s string, m Var) string {
	var b strings.Builder
	for {
		i := strings.Index(s, "${")
		if i < 0 {
			break
		}
		j := strings.IndexByte(s[i+2:], '}')
		if j < 0 {
			break
		}
		key := s[i+2 : i+2+j]
		b.WriteString(s[:i])
		if v, ok := m[key]; ok {
			b.WriteString(v)
		} else {
			b.WriteString(s[i : i+3+j])
		}
		s = s[i+3+j:]
	}
	b.WriteString(s)
	return b.String()
}
