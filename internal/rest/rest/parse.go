package rest

type Param struct {
	v interface{}
}

func (c *Ctx) UserValue(key Key) *Param {
	return &Param{c.RequestCtx.UserValue(string(key))}
}

// String returns a string value of the param
func (p *Param) String() (string, bool) {
	s, ok := p.v.(string)
	if !ok || s == "" {
		return "", false
	}

	return s, true
}
