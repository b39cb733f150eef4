// Package ir defines the machine level intermediate representation of the
// gpucc code generator.
//
// The IR is designed to be:
//   - Target-shared: One instruction model for every supported GPU generation
//   - Editable: Passes rewrite instructions in place through use-def links
//   - Allocatable: Values carry live intervals and coalescing state
//
// # Structure
//
// A Program owns Functions and the arena of all Values. A Function owns its
// BasicBlocks and Instructions:
//   - Value: a virtual register (LValue), a memory or system value Symbol,
//     or an Immediate
//   - Ref and Def: one source or destination slot, linked into the use and
//     def lists of the value it names
//   - Instruction: up to 4 definitions and 8 sources, with the predicate,
//     condition flags and indirect addresses stored as extra sources
//   - BasicBlock: a doubly linked instruction list with typed CFG edges and
//     dominator tree links
//
// # Compilation Pipeline
//
// The passes of the code generator run in this order:
//
//	front-end IR → pre-SSA lowering → SSA lowering → register allocation → post-RA lowering → emission
//
// The lowering passes live in package lower, the allocator in package
// regalloc and the encoder in package emit. The Target interface defined here
// is implemented by package target.
//
// # Text Form
//
// Print and Parse convert a Program to and from a line oriented text form:
//
//	program fragment chipset 0x50
//	func main
//	bb 0
//	  %1:f32 = linterp.f32 a[0x10]:f32
//	  %2:f32 = mul.f32 %1 0x3f000000:f32
//	  export.f32 o[0x0]:f32 %2
//	  exit
//
// # References
//
// The instruction model follows the nv50 code generator of Mesa:
//   - nouveau codegen: https://gitlab.freedesktop.org/mesa/mesa/-/tree/main/src/gallium/drivers/nouveau/codegen
//   - envytools ISA documentation: https://envytools.readthedocs.io/
package ir
