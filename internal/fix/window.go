package fix

// Window changes the styles of a game window.
type Window interface {
	MakeBorderless(hwnd uintptr) error
}

const (
	wsCaption    = 0x00C00000
	wsThickFrame = 0x00040000
	wsMinimize   = 0x20000000
	wsMaximize   = 0x01000000
	wsSysMenu    = 0x00080000

	wsExDlgModalFrame = 0x00000001
	wsExClientEdge    = 0x00000200
	wsExStaticEdge    = 0x00020000
)

// borderlessStyles strips the frame and edge bits from a window's style
// and extended style.
func borderlessStyles(style, exStyle uint32) (uint32, uint32) {
	style &^= wsCaption | wsThickFrame | wsMinimize | wsMaximize | wsSysMenu
	exStyle &^= wsExDlgModalFrame | wsExClientEdge | wsExStaticEdge
	return style, exStyle
}
