// Package hook intercepts execution in the middle of a function.
//
// Installing a site displaces the whole instructions covering the first five
// bytes at an address into a stub and writes a jmp rel32 to that stub. The
// stub saves the flags and general purpose registers, calls the package
// dispatcher with the site id and a pointer to the saved registers, restores
// them, runs the displaced instructions and jumps back. Callbacks see the
// saved registers through a Context and may rewrite them or the stack.
//
// Head writes happen with the other threads of the process suspended where
// Threads can do so. A thread stopped between two displaced instructions is
// moved to the same instruction in the stub on install, and back on removal.
// Sites still belong at the start of straight-line code that no branch
// enters partway.
package hook
