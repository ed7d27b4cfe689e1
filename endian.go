package rosbag

import "encoding/binary"

// All multi-byte integers and floats in the format are little-endian, on any
// host. encoding/binary.LittleEndian decodes correctly regardless of host
// byte order, so no init-time endianness probe is needed.
var endian binary.ByteOrder = binary.LittleEndian
