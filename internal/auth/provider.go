package auth

import (
	"sync"

	"github.com/fathima-sithara/chat-sync/internal/domain"
)

// Provider holds the signed-in principal of one client session and notifies listeners on
// sign-in and sign-out. A nil principal means signed out.
type Provider struct {
	mu        sync.Mutex
	current   *domain.Principal
	nextID    int
	listeners map[int]func(*domain.Principal)
}

func NewProvider() *Provider {
	return &Provider{listeners: make(map[int]func(*domain.Principal))}
}

func (p *Provider) Current() *domain.Principal {
	p.mu.Lock()
	defer p.mu.Unlock()
	if p.current == nil {
		return nil
	}
	c := *p.current
	return &c
}

func (p *Provider) SignIn(principal domain.Principal) {
	p.set(&principal)
}

func (p *Provider) SignOut() {
	p.set(nil)
}

// OnChange registers fn for sign-in/sign-out transitions. The returned function removes it.
func (p *Provider) OnChange(fn func(*domain.Principal)) (unsubscribe func()) {
	p.mu.Lock()
	id := p.nextID
	p.nextID++
	p.listeners[id] = fn
	p.mu.Unlock()

	var once sync.Once
	return func() {
		once.Do(func() {
			p.mu.Lock()
			delete(p.listeners, id)
			p.mu.Unlock()
		})
	}
}

func (p *Provider) set(principal *domain.Principal) {
	p.mu.Lock()
	prev := p.current
	p.current = principal
	if prev == nil && principal == nil {
		p.mu.Unlock()
		return
	}
	fns := make([]func(*domain.Principal), 0, len(p.listeners))
	for _, fn := range p.listeners {
		fns = append(fns, fn)
	}
	p.mu.Unlock()

	for _, fn := range fns {
		if principal == nil {
			fn(nil)
			continue
		}
		c := *principal
		fn(&c)
	}
}
