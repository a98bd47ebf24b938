package cpu

import (
	"github.com/pkg/errors"
)

type Hook interface{}

type hookInfo struct {
	htype int
	start uint64
	end   uint64
}

func (h *hookInfo) Type() int {
	return h.htype
}

func (h *hookInfo) Contains(addr uint64) bool {
	return h.start > h.end || addr >= h.start && addr <= h.end
}

type hinfo interface {
	Type() int
}

type codeHook struct {
	hookInfo
	cb func(Cpu, uint64, uint32)
}

type faultHook struct {
	hookInfo
	cb func(Cpu, int, uint64, int, int64) bool
}

// Hooks dispatches per-instruction and memory-fault callbacks for the
// pure-Go cpu backends. Only the hook types the debugger uses are carried.
type Hooks struct {
	cpu Cpu

	code  []*codeHook
	fault []*faultHook
}

// creates &Hooks{}, optionally attaching to a *Mem instance so memory
// faults dispatch automatically
func NewHooks(cpu Cpu, mem *Mem) *Hooks {
	h := &Hooks{cpu: cpu}
	if mem != nil {
		mem.hooks = h
	}
	return h
}

func (h *Hooks) HookAdd(htype int, cb interface{}, start, end uint64) (Hook, error) {
	info := hookInfo{htype, start, end}
	var hook interface{}
	switch htype {
	case HOOK_CODE:
		hh := &codeHook{info, cb.(func(Cpu, uint64, uint32))}
		h.code, hook = append(h.code, hh), hh

	case HOOK_MEM_ERR:
		hh := &faultHook{info, cb.(func(Cpu, int, uint64, int, int64) bool)}
		h.fault, hook = append(h.fault, hh), hh

	default:
		return 0, errors.New("unknown hook type")
	}
	return hook, nil
}

func (h *Hooks) HookDel(hh Hook) error {
	info, ok := hh.(hinfo)
	if !ok {
		return errors.New("not a hook")
	}
	switch info.Type() {
	case HOOK_CODE:
		var tmp []*codeHook
		for _, v := range h.code {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.code = tmp
	case HOOK_MEM_ERR:
		var tmp []*faultHook
		for _, v := range h.fault {
			if v != hh {
				tmp = append(tmp, v)
			}
		}
		h.fault = tmp
	}
	return nil
}

func (h *Hooks) OnCode(addr uint64, size uint32) {
	for _, v := range h.code {
		if v.Contains(addr) {
			v.cb(h.cpu, addr, size)
		}
	}
}

func (h *Hooks) OnFault(access int, addr uint64, size int, val int64) bool {
	for _, v := range h.fault {
		if v.Contains(addr) {
			if v.cb(h.cpu, access, addr, size, val) {
				return true
			}
		}
	}
	return false
}
