package store

var _ KV = (*PrefixKV)(nil)

// PrefixKV namespaces every key of a parent KV.
type PrefixKV struct {
	parent KV
	prefix []byte
}

// Prefix returns a view of parent restricted to keys under prefix.
func Prefix(parent KV, prefix []byte) *PrefixKV {
	return &PrefixKV{parent: parent, prefix: Key(prefix)}
}

func (p *PrefixKV) key(k []byte) []byte { return Key(p.prefix, k) }

func (p *PrefixKV) Get(key []byte) ([]byte, error) { return p.parent.Get(p.key(key)) }

func (p *PrefixKV) Has(key []byte) (bool, error) { return p.parent.Has(p.key(key)) }

func (p *PrefixKV) Put(key, value []byte) error { return p.parent.Put(p.key(key), value) }

func (p *PrefixKV) Delete(key []byte) error { return p.parent.Delete(p.key(key)) }

func (p *PrefixKV) Iterate(prefix []byte, fn func(key, value []byte) bool) error {
	n := len(p.prefix)
	return p.parent.Iterate(p.key(prefix), func(k, v []byte) bool {
		return fn(k[n:], v)
	})
}
