// internal/discovery/bridges.go
package discovery

import "strings"

// BridgeInfo identifies a USB-to-serial chip found in ELM327 cables
type BridgeInfo struct {
	Vendor     string
	Chip       string
	Confidence float64
}

// BridgeDatabase maps USB vendor/product ids to known bridge chips
type BridgeDatabase struct {
	bridges map[string]*BridgeInfo
}

// NewBridgeDatabase returns the built-in table
func NewBridgeDatabase() *BridgeDatabase {
	db := &BridgeDatabase{bridges: make(map[string]*BridgeInfo)}

	// FTDI (0x0403), used by most genuine ELM327 USB cables
	db.Add("0403", "6001", &BridgeInfo{Vendor: "FTDI", Chip: "FT232R", Confidence: 0.8})
	db.Add("0403", "6015", &BridgeInfo{Vendor: "FTDI", Chip: "FT231X", Confidence: 0.7})

	// WCH (0x1A86), common in clones
	db.Add("1A86", "7523", &BridgeInfo{Vendor: "WCH", Chip: "CH340", Confidence: 0.75})
	db.Add("1A86", "5523", &BridgeInfo{Vendor: "WCH", Chip: "CH341", Confidence: 0.6})

	// Silicon Labs (0x10C4)
	db.Add("10C4", "EA60", &BridgeInfo{Vendor: "Silicon Labs", Chip: "CP210x", Confidence: 0.7})

	// Prolific (0x067B)
	db.Add("067B", "2303", &BridgeInfo{Vendor: "Prolific", Chip: "PL2303", Confidence: 0.7})

	return db
}

// Add registers a bridge; ids are hex strings in any case
func (db *BridgeDatabase) Add(vendorID, productID string, info *BridgeInfo) {
	db.bridges[bridgeKey(vendorID, productID)] = info
}

// Lookup returns the bridge for the ids, or nil
func (db *BridgeDatabase) Lookup(vendorID, productID string) *BridgeInfo {
	return db.bridges[bridgeKey(vendorID, productID)]
}

// Len returns the number of known bridges
func (db *BridgeDatabase) Len() int {
	return len(db.bridges)
}

func bridgeKey(vendorID, productID string) string {
	return strings.ToUpper(vendorID) + ":" + strings.ToUpper(productID)
}
