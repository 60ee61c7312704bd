// Package device is the output device of one Flashforge printer.
//
// A Device turns a write request of the host application into an upload:
// it obtains the G-code from a producer, encodes it with the gx package,
// names the remote file and hands the job to a transfer.Uploader.
//
// A Registry keeps one Device per printer identity that has an address in
// the settings.AddressBook.
package device
