//go:build !unix

package daemon

func RaiseNoFile() (uint64, error) {
	return 0, nil
}

func SetOOMScoreAdj(score int) error {
	return nil
}
