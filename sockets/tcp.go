// Copyright (c) 2020 Andy Pan
// Copyright (c) 2017 Max Riveiro
//
// Licensed under the Apache License, Version 2.0 (the "License");
// you may not use this file except in compliance with the License.
// You may obtain a copy of the License at
//
//     http://www.apache.org/licenses/LICENSE-2.0
//
// Unless required by applicable law or agreed to in writing, software
// distributed under the License is distributed on an "AS IS" BASIS,
// WITHOUT WARRANTIES OR CONDITIONS OF ANY KIND, either express or implied.
// See the License for the specific language governing permissions and
// limitations under the License.

//go:build linux
// +build linux

package sockets

import (
	"net"

	"github.com/pkg/errors"
	"golang.org/x/sys/unix"
)

func tcpSocket(proto, addr string, passive bool, sockOpts ...Option) (int, net.Addr, error) {
	taddr, err := net.ResolveTCPAddr(proto, addr)
	if err != nil {
		return -1, nil, errors.Wrapf(err, "resolve %s address %q", proto, addr)
	}
	sa, family, err := tcpSockaddr(taddr)
	if err != nil {
		return -1, nil, err
	}

	fd, err := unix.Socket(family, unix.SOCK_STREAM|unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC, unix.IPPROTO_TCP)
	if err != nil {
		return -1, nil, errors.Wrap(err, "create socket")
	}
	for _, opt := range sockOpts {
		if err = opt.SetSockOpt(fd, opt.Opt); err != nil {
			unix.Close(fd)
			return -1, nil, errors.Wrap(err, "set socket option")
		}
	}

	if passive {
		if err = unix.Bind(fd, sa); err != nil {
			unix.Close(fd)
			return -1, nil, errors.Wrapf(err, "bind %q", addr)
		}
		if err = unix.Listen(fd, unix.SOMAXCONN); err != nil {
			unix.Close(fd)
			return -1, nil, errors.Wrapf(err, "listen on %q", addr)
		}
		// Re-read the address so a requested port of 0 reports the port the
		// kernel picked.
		bound, err := unix.Getsockname(fd)
		if err != nil {
			unix.Close(fd)
			return -1, nil, errors.Wrap(err, "getsockname")
		}
		return fd, SockaddrToTCPAddr(bound), nil
	}

	// EINPROGRESS is the normal outcome of a non-blocking connect; the dial
	// resolves when the socket turns writable.
	if err = unix.Connect(fd, sa); err != nil && err != unix.EINPROGRESS {
		unix.Close(fd)
		return -1, nil, errors.Wrapf(err, "connect %q", addr)
	}
	return fd, taddr, nil
}

func tcpSockaddr(taddr *net.TCPAddr) (unix.Sockaddr, int, error) {
	if taddr.IP == nil {
		// Unspecified address, e.g. ":0".
		return &unix.SockaddrInet4{Port: taddr.Port}, unix.AF_INET, nil
	}
	if ip4 := taddr.IP.To4(); ip4 != nil {
		sa := &unix.SockaddrInet4{Port: taddr.Port}
		copy(sa.Addr[:], ip4)
		return sa, unix.AF_INET, nil
	}
	if ip6 := taddr.IP.To16(); ip6 != nil {
		sa := &unix.SockaddrInet6{Port: taddr.Port}
		copy(sa.Addr[:], ip6)
		return sa, unix.AF_INET6, nil
	}
	return nil, 0, errors.Errorf("unsupported address %s", taddr)
}

// Accept wraps accept4(2), returning the next pending connection on the
// listener as a non-blocking, close-on-exec fd.
func Accept(listenerFd int) (int, unix.Sockaddr, error) {
	return unix.Accept4(listenerFd, unix.SOCK_NONBLOCK|unix.SOCK_CLOEXEC)
}

// SockaddrToTCPAddr converts an accepted or resolved sockaddr to net.Addr.
func SockaddrToTCPAddr(sa unix.Sockaddr) net.Addr {
	switch sa := sa.(type) {
	case *unix.SockaddrInet4:
		ip := make(net.IP, len(sa.Addr))
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	case *unix.SockaddrInet6:
		ip := make(net.IP, len(sa.Addr))
		copy(ip, sa.Addr[:])
		return &net.TCPAddr{IP: ip, Port: sa.Port}
	default:
		return nil
	}
}
