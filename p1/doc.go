// Package p1 decodes DSMR smart meter telegrams read from the P1 port.
//
// Line stream -> Framer -> Frame -> Decoder -> Record.
// Reader composes both into lazy pull sequence.
package p1
