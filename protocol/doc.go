// Package protocol
// Author: momentics <momentics@gmail.com>
//
// Wayland wire format: message headers, argument encoding and decoding.
//
// Every message starts with an 8-byte header: the target object id, then a
// 32-bit word holding the message size in the upper 16 bits and the opcode
// in the lower 16. Arguments follow in host byte order, each padded to 32
// bits. File descriptors never travel in the byte stream; they are passed
// out of band (SCM_RIGHTS) and consumed in message order.
package protocol
