// Package transfer uploads a print job to a Flashforge printer over its TCP
// control port and starts the print.
//
// The protocol is a fixed sequence of ASCII commands with the payload in between:
//
//	-> ~M28 <size> 0:/user/<file>\r\n   begin file write, 3 response lines
//	-> <payload, chunked>
//	-> ~M29\r\n                         end file write, 3 response lines
//	-> ~M23 0:/user/<file>\r\n          start print, 4 response lines
//	-> ~M119\r\n                        status, 8 response lines
//
// The third status line decides the outcome: BUILDING_FROM_SD ends the upload
// successfully, PAUSED polls again after a backoff and anything else restarts
// the sequence until the attempt budget is exhausted.
//
// Machine implements the protocol against the Link interface, Conn is the TCP
// Link and Uploader wires both together with an EventQueue that delivers
// reports off the I/O worker.
package transfer
