package service

// pageLimits ограничивает размер страницы: n <= 0 заменяется размером по умолчанию,
// большее максимума урезается до него.
type pageLimits struct {
	def int
	max int
}

func newPageLimits(def, max int) pageLimits {
	if max <= 0 {
		max = 100
	}
	if def <= 0 || def > max {
		def = min(20, max)
	}
	return pageLimits{def: def, max: max}
}

func (p pageLimits) clamp(n int) int {
	if n <= 0 {
		return p.def
	}
	return min(n, p.max)
}
