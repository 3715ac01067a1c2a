package resolver

var Classify = classify

func ChrootedPath(chroot, p string) string {
	return (&ZooKeeper{chroot: chroot}).path(p)
}
